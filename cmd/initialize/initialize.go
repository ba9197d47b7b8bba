// Package initialize wires settings, logging and storage shared by the binaries.
package initialize

import (
	"context"
	"github.com/denismitr/goenv"
	"github.com/denismitr/respimg/internal/config"
	"github.com/denismitr/respimg/internal/limits"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/denismitr/respimg/internal/registry/fsregistry"
	"github.com/denismitr/respimg/internal/registry/mgoregistry"
	"github.com/denismitr/respimg/internal/responsive"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/denismitr/respimg/internal/storage/diskstorage"
	"github.com/denismitr/respimg/internal/storage/s3storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"os"
	"time"
)

// DotEnv loads .env files, a missing file is not an error
func DotEnv(files ...string) {
	err := godotenv.Load(files...)
	if err != nil && !os.IsNotExist(err) {
		panic("Error loading .env file: " + err.Error())
	}
}

// Settings reads RESPIMG_SETTINGS and applies the environment overrides
func Settings() *config.Settings {
	settings, err := config.Load(os.Getenv("RESPIMG_SETTINGS"))
	if err != nil {
		panic(err)
	}

	if root := os.Getenv("RESPIMG_SITE_ROOT"); root != "" {
		settings.SiteRoot = root
	}

	if settings.SiteRoot == "" {
		settings.SiteRoot = goenv.MustString("RESPIMG_SITE_ROOT")
	}

	if os.Getenv("RESPIMG_SCALE_UP") != "" {
		settings.ScaleUp = goenv.IsTruthy("RESPIMG_SCALE_UP")
	}

	if os.Getenv("RESPIMG_MIRROR") != "" {
		settings.Mirror = goenv.IsTruthy("RESPIMG_MIRROR")
	}

	return settings
}

func Logger(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.StampMilli,
		FullTimestamp:   true,
	}

	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Warnf("unknown log level %s, using info", level)
	}

	return log
}

// Backend selects the image backend once, nil when none is available
func Backend(settings *config.Settings, log *logrus.Logger) manipulator.Backend {
	backend, err := manipulator.Select(&manipulator.Config{Backend: settings.Backend})
	if err != nil {
		log.Warnf("responsive images disabled: %v", err)
		return nil
	}

	log.WithField("webp", backend.SupportsWebp()).Infof("image backend %s", backend.Name())

	return backend
}

func S3StorageFromEnv() *s3storage.RemoteStorage {
	cfg := s3storage.Config{
		AccessKey:        goenv.MustString("S3_ACCESS_KEY_ID"),
		AccessSecret:     goenv.MustString("S3_SECRET_ACCESS_KEY"),
		AccessToken:      "",
		Region:           goenv.MustString("S3_REGION"),
		Endpoint:         goenv.MustString("S3_ENDPOINT"),
		Bucket:           goenv.MustString("S3_BUCKET"),
		S3ForcePathStyle: goenv.IsTruthy("S3_FORCE_PATH_STYLE"),
		EnableSSL:        goenv.IsTruthy("S3_SSL"),
	}

	return s3storage.New(cfg)
}

func MongoRegistry(connectionTimeout time.Duration, migrate bool) (*mgoregistry.MongoRegistry, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(goenv.MustString("MONGODB_URL")))
	if err != nil {
		panic(err)
	}

	registry := mgoregistry.New(client, mgoregistry.Config{
		DB:                goenv.MustString("MONGODB_DATABASE"),
		RecordsCollection: "derivative_sets",
	})

	if migrate {
		if err := registry.Migrate(ctx); err != nil {
			panic(err)
		}
	}

	return registry, func() {
		if err := client.Disconnect(context.Background()); err != nil {
			panic(err)
		}
	}
}

// Components are the wired parts every binary needs
type Components struct {
	Settings    *config.Settings
	Layout      media.Layout
	Backend     manipulator.Backend
	Store       *diskstorage.LocalStorage
	Transformer *responsive.Transformer
	Logger      *logrus.Logger
	close       []func()
}

// Close releases the registry connection and the image backend
func (c *Components) Close() {
	for i := len(c.close) - 1; i >= 0; i-- {
		c.close[i]()
	}
}

// Wire builds the transformer and everything it depends on from the environment
func Wire() *Components {
	DotEnv()

	settings := Settings()
	log := Logger(settings.LogLevel)

	layout, err := settings.Layout()
	if err != nil {
		panic(err)
	}

	staleness, err := responsive.ParseStaleness(settings.Staleness)
	if err != nil {
		panic(err)
	}

	ceiling, err := limits.MemoryCeiling(settings.MemoryLimit)
	if err != nil {
		panic(err)
	}

	c := &Components{Settings: settings, Layout: layout, Logger: log}

	var reg registry.Registry = fsregistry.New(layout)
	if settings.Registry == config.RegistryMongo {
		mgo, closeRegistry := MongoRegistry(30*time.Second, true)
		reg = mgo
		c.close = append(c.close, closeRegistry)
	}

	var mirror storage.Storage
	if settings.Mirror {
		mirror = S3StorageFromEnv()
	}

	c.Backend = Backend(settings, log)
	if c.Backend != nil {
		c.close = append(c.close, c.Backend.Shutdown)
	}

	c.Store = diskstorage.New(layout.CacheRoot)
	c.Transformer = responsive.NewTransformer(responsive.Config{
		Breakpoints: settings.BreakpointList(),
		Staleness:   staleness,
		Generator: responsive.GeneratorConfig{
			Quality:       settings.Quality,
			ScaleUp:       settings.ScaleUp,
			MemoryCeiling: ceiling,
		},
	}, layout, c.Backend, c.Store, mirror, reg, log)

	log.WithFields(logrus.Fields{
		"media":     layout.MediaRoot,
		"cache":     layout.CacheDir(),
		"registry":  settings.Registry,
		"staleness": staleness,
		"ceiling":   ceiling,
	}).Debug("responsive images wired")

	return c
}
