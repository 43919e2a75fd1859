package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ZentaChain/relaytalk/pkg/config"
	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/observability"
	"github.com/ZentaChain/relaytalk/pkg/session"
	"github.com/ZentaChain/relaytalk/pkg/storage"
	"github.com/ZentaChain/relaytalk/pkg/transport"
)

// app is everything one invocation needs, opened in dependency order
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	info    *storage.InfoFile
	db      *storage.MessageDB // nil when no store password is configured
	session *session.Session
}

// errNoStore is returned by one-shot commands whose key state would not
// survive the process without a message store
var errNoStore = errors.New("received keys would be lost on exit: configure store_password or use `relaytalk shell`")

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if serverFlag != "" {
		cfg.Server.Address = serverFlag
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openApp runs config, logger, identity file, message store, dial, session.
// With requireStore it fails before dialing when no store is configured.
func openApp(ctx context.Context, requireStore bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.open(ctx, requireStore); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context, requireStore bool) error {
	if err := os.MkdirAll(a.cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	a.info = storage.NewInfoFile(a.cfg.IdentityPath())
	identity, err := a.info.Load()
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		a.logger.Info("no identity yet, register first", zap.String("path", a.info.Path()))
	default:
		return fmt.Errorf("load identity: %w", err)
	}

	peers := session.NewPeerKeyStore()
	var directory session.Directory = a.info

	if a.cfg.StorePassword != "" {
		a.db, err = storage.NewMessageDB(a.cfg.DatabasePath(), a.cfg.StorePassword)
		if err != nil {
			return fmt.Errorf("open message store: %w", err)
		}
		records, err := a.db.LoadPeers()
		if err != nil {
			return fmt.Errorf("load peers: %w", err)
		}
		peers.Restore(records)
		directory = a.db
		a.logger.Debug("peers restored", zap.Int("peers", peers.Len()))
	} else if requireStore {
		return errNoStore
	}

	sym, err := crypto.SymmetricByName(a.cfg.Crypto.Cipher)
	if err != nil {
		return err
	}

	address := a.cfg.Server.Address
	if address == "" {
		address = transport.ReadServerInfo(a.cfg.ServerInfoPath())
	}

	conn, err := transport.Dial(ctx, address, transport.Options{
		DialTimeout:  a.cfg.Server.DialTimeout,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", address, err)
	}

	a.session = session.New(conn,
		session.WithLogger(a.logger),
		session.WithSymmetricCipher(sym),
		session.WithIdentityStore(a.info),
		session.WithDirectory(directory),
		session.WithPeerKeyStore(peers),
	)

	if identity.Username != "" {
		if err := a.session.RestoreIdentity(identity); err != nil {
			return fmt.Errorf("restore identity: %w", err)
		}
	}

	return nil
}

// close persists the key store and releases everything open
func (a *app) close() {
	if a.db != nil {
		if a.session != nil {
			if err := a.db.SavePeers(a.session.Peers().Snapshot()); err != nil {
				a.logger.Warn("failed to save peers", zap.Error(err))
			}
		}
		a.db.Close()
	}
	if a.session != nil {
		a.session.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) console() *console {
	return newConsole(a.session, a.db, os.Stdin, os.Stdout)
}

// withApp opens the app for one command and closes it afterwards
func withApp(ctx context.Context, fn func(a *app) error) error {
	return run(ctx, false, fn)
}

// withStore is withApp for commands that change the key store. A one-shot
// process keeps received keys only through the message store.
func withStore(ctx context.Context, fn func(a *app) error) error {
	return run(ctx, true, fn)
}

func run(ctx context.Context, requireStore bool, fn func(a *app) error) error {
	a, err := openApp(ctx, requireStore)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
