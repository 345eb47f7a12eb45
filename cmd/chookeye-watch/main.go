// chookeye-watch streams nearby chookeye alerts to the terminal: it signs
// in (when credentials are configured), connects to the realtime channel,
// subscribes around the configured position and prints the live feed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sijirama/jason/chookeye"
	"github.com/sijirama/jason/internal/config"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Watcher failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	state := chookeye.NewStateStore(cfg.StateFile)
	coords, err := startingCoords(cfg, state)
	if err != nil {
		return err
	}

	client, err := chookeye.New(chookeye.Config{
		BaseURL:      cfg.APIURL,
		SocketURL:    cfg.SocketURL,
		RadiusMeters: cfg.RadiusMeters,
		Location:     &chookeye.StaticProvider{Coords: coords},
		Logger:       log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := signIn(ctx, cfg, state, client, log); err != nil {
		log.WithError(err).Warn("Continuing unauthenticated")
	}

	feedSub := client.Feed().OnChange(func(alert chookeye.Alert) {
		log.WithFields(logrus.Fields{
			"id":      alert.ID,
			"urgency": alert.UrgencyLevel(),
			"status":  alert.Status,
			"lat":     alert.Location.Latitude,
			"lon":     alert.Location.Longitude,
		}).Info(alert.Title)
	})
	defer feedSub.Off()

	if err := client.Start(); err != nil {
		return err
	}
	defer func() {
		if err := client.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop client")
		}
	}()

	if err := state.SaveLastCoords(coords); err != nil {
		log.WithError(err).Warn("Failed to persist coordinates")
	}

	log.WithFields(logrus.Fields{
		"lat":    coords.Latitude,
		"lon":    coords.Longitude,
		"radius": cfg.RadiusMeters,
	}).Info("Watching for alerts")

	<-ctx.Done()
	return nil
}

// startingCoords prefers configured coordinates and falls back to the last
// position persisted by a previous run.
func startingCoords(cfg *config.Config, state *chookeye.StateStore) (chookeye.Coordinates, error) {
	if cfg.HasCoordinates() {
		return chookeye.Coordinates{Latitude: cfg.Latitude, Longitude: cfg.Longitude}, nil
	}

	last, err := state.GetLastCoords()
	if err != nil {
		return chookeye.Coordinates{}, err
	}
	if last == nil {
		return chookeye.Coordinates{}, errNoCoordinates
	}
	return *last, nil
}

var errNoCoordinates = errors.New("no coordinates configured and none persisted; set CHOOKEYE_LATITUDE and CHOOKEYE_LONGITUDE")

// signIn authenticates with configured credentials, or restores a persisted
// session that has not expired yet.
func signIn(ctx context.Context, cfg *config.Config, state *chookeye.StateStore, client *chookeye.Client, log *logrus.Logger) error {
	if cfg.Email != "" && cfg.Password != "" {
		session, err := client.SignIn(ctx, cfg.Email, cfg.Password)
		if err != nil {
			return err
		}
		expiry, _ := session.Expiry()
		if err := state.SaveSession(session.Token, expiry); err != nil {
			log.WithError(err).Warn("Failed to persist session")
		}
		return nil
	}

	token, expiry, err := state.GetSession()
	if err != nil {
		return err
	}
	if token == "" || (!expiry.IsZero() && time.Now().After(expiry)) {
		return errors.New("no usable stored session")
	}
	return client.RestoreSession(token)
}
