package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/connection"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/store"
)

type countingTransport struct {
	calls int
}

func (c *countingTransport) Post(_ context.Context, _ string, _ string, _ []byte) (int, string, []byte, error) {
	c.calls++
	return 200, "text/xml", []byte(`<?xml version="1.0" encoding="UTF-8"?><ebicsResponse Version="H004" Revision="1">` +
		`<header><static/><mutable><ReturnCode>091010</ReturnCode></mutable></header>` +
		`<body><ReturnCode>091010</ReturnCode></body></ebicsResponse>`), nil
}

func seedReadyConnection(t *testing.T, s store.Store) store.AccountRecord {
	t.Helper()
	authKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	encKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)
	sigKey, err := ebicscrypto.GenerateRSA(2048)
	require.NoError(t, err)

	conn := &connection.Connection{
		ID:       "conn-1",
		Protocol: connection.ProtocolEBICS,
		EBICS: &connection.EBICSConfig{
			BaseURL: "https://bank.example/ebics", HostID: "HOST1", PartnerID: "PARTNER1", UserID: "USER1",
			AuthKey: authKey, EncKey: encKey, SigKey: sigKey,
			BankAuthPub: &authKey.PublicKey, BankEncPub: &encKey.PublicKey,
		},
	}
	rec, err := connection.ToRecord(conn)
	require.NoError(t, err)
	require.NoError(t, s.CreateConnection(context.Background(), rec))

	acc := store.AccountRecord{ID: "acc-1", ConnectionID: conn.ID, IBAN: "DE89370400440532013000", BIC: "DEUTDEFF", Holder: "Example GmbH"}
	require.NoError(t, s.CreateAccount(context.Background(), acc))
	return acc
}

func TestRunTickSkipsConnectionsInBackoffAfterFatalFailure(t *testing.T) {
	t.Parallel()
	s := store.NewMemStore()
	seedReadyConnection(t, s)

	tr := &countingTransport{}
	fixed := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := New(s, tr, fixed, time.Millisecond)

	sched.runTick(context.Background())
	require.True(t, tr.calls > 0)

	callsAfterFirstTick := tr.calls
	sched.runTick(context.Background())
	require.Equal(t, callsAfterFirstTick, tr.calls, "connection should be in backoff and skipped")

	fixed.Advance(maxBackoff + time.Second)
	sched.runTick(context.Background())
	require.True(t, tr.calls > callsAfterFirstTick, "connection should retry once backoff elapses")
}

func TestStartStopReturnsPromptly(t *testing.T) {
	t.Parallel()
	s := store.NewMemStore()
	tr := &countingTransport{}
	sched := New(s, tr, clock.System{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
