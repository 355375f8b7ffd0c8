package main

import (
	"context"
	"fmt"

	"mail-ingestor/internal/blobstore"
	"mail-ingestor/internal/credential"
	"mail-ingestor/internal/emailprocessor"
	"mail-ingestor/internal/events"
	imapclient "mail-ingestor/internal/imap"
	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
	"mail-ingestor/internal/store"
	"mail-ingestor/internal/syncer"
)

const natsStreamName = "MAILSYNC"

// app holds the collaborators shared by the fetch and serve commands
type app struct {
	cfg          *models.Config
	store        *store.SQLStore
	orchestrator *syncer.Orchestrator
	sinks        []events.Sink
	closers      []func()
}

func newApp(cfg *models.Config) (*app, error) {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st}
	a.closers = append(a.closers, func() { _ = st.Close() })

	blobs, err := blobstore.NewOS(cfg.Attachments.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	processor := emailprocessor.NewProcessor(st, blobs)
	dialer := imapclient.StandardDialer{
		ConnectTimeout: cfg.Sync.ConnectTimeout,
		FetchTimeout:   cfg.Sync.FetchTimeout,
	}
	synchronizer := syncer.NewSynchronizer(dialer, st, processor, syncer.Options{
		BatchSize:        cfg.Sync.BatchSize,
		FetchTimeout:     cfg.Sync.FetchTimeout,
		FetchesPerSecond: cfg.Sync.FetchesPerSecond,
	})
	a.orchestrator = syncer.NewOrchestrator(synchronizer)

	if cfg.NATS.URL != "" {
		pub, err := events.NewJetStreamPublisher(cfg.NATS.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		if err := pub.EnsureStream(natsStreamName, cfg.NATS.Subject); err != nil {
			a.Close()
			return nil, err
		}
		a.sinks = append(a.sinks, events.NewNATSSink(pub, cfg.NATS.Subject))
		logging.Log.Infof("Publishing sync events to NATS subject %s.>", cfg.NATS.Subject)
	}

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// accounts registers every configured account and returns those persistence knows about,
// with passwords missing from the config looked up in the keyring.
func (a *app) accounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	for _, ac := range a.cfg.Accounts {
		if err := a.store.UpsertAccount(ctx, ac.Email, ac.Provider); err != nil {
			return nil, err
		}
		exists, err := a.store.AccountExists(ctx, ac.Email)
		if err != nil {
			return nil, err
		}
		if !exists {
			logging.Log.WithField("account", ac.Email).Warn("Account not registered, skipping")
			continue
		}
		out = append(out, ac.Account())
	}

	if needsKeyring(out) {
		creds, err := credential.Open()
		if err != nil {
			logging.Log.Warnf("Keyring unavailable, accounts without password will fail: %v", err)
			return out, nil
		}
		out = creds.ResolvePasswords(out)
	}
	return out, nil
}

func needsKeyring(accounts []models.Account) bool {
	for _, acc := range accounts {
		if acc.Password == "" {
			return true
		}
	}
	return false
}

// runOnce performs one sync run over every account, delivering events to sink and the configured sinks
func (a *app) runOnce(ctx context.Context, sink events.Sink) (string, error) {
	accounts, err := a.accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("listing accounts: %w", err)
	}
	all := events.MultiSink(append([]events.Sink{sink}, a.sinks...))
	return a.orchestrator.Run(ctx, accounts, all), nil
}
