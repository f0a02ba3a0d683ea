package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexusbank/gateway/internal/config"
	"github.com/nexusbank/gateway/internal/demobank"
	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/nexusbank/gateway/internal/logging"
	"github.com/nexusbank/gateway/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the EBICS host simulator",
		RunE:  runServe,
	}

	cmd.Flags().String("host", "localhost", "Server host")
	cmd.Flags().Int("port", 8081, "Server port")
	cmd.Flags().String("host-id", "SIMHOST", "EBICS HostID this simulator answers as")
	cmd.Flags().String("partner-id", "PARTNER1", "Seeded partner id")
	cmd.Flags().String("iban", "DE89370400440532013000", "Seeded account IBAN")
	cmd.Flags().String("bic", "SIMUDEFF", "Seeded account BIC")
	cmd.Flags().String("holder", "Demo Account Holder", "Seeded account holder name")
	cmd.Flags().String("opening-balance", "1000.00", "Seeded account opening balance")

	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Get()

	logLevel := strings.TrimSpace(strings.ToLower(viper.GetString("log.level")))
	logFormat := strings.TrimSpace(strings.ToLower(viper.GetString("log.format")))
	logging.InitLogger(logLevel == "debug", logFormat == "human")

	hostID, _ := cmd.Flags().GetString("host-id")
	partnerID, _ := cmd.Flags().GetString("partner-id")
	iban, _ := cmd.Flags().GetString("iban")
	bic, _ := cmd.Flags().GetString("bic")
	holder, _ := cmd.Flags().GetString("holder")
	opening, _ := cmd.Flags().GetString("opening-balance")

	authKey, err := ebicscrypto.GenerateRSA(ebicscrypto.MinKeyBits)
	if err != nil {
		return fmt.Errorf("generate bank authentication key: %w", err)
	}
	encKey, err := ebicscrypto.GenerateRSA(ebicscrypto.MinKeyBits)
	if err != nil {
		return fmt.Errorf("generate bank encryption key: %w", err)
	}

	bank := demobank.NewBank(hostID, authKey, encKey)
	if err := bank.SeedAccount(partnerID, iban, bic, holder, opening); err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	log.Info().Str("host_id", hostID).Str("partner_id", partnerID).Str("iban", iban).Msg("simulator seeded")

	cfg.Server.Host, _ = cmd.Flags().GetString("host")
	cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.NewServer(serverAddr, bankHandler(bank))

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msg("shutting down simulator...")
		if err := srv.Stop(); err != nil {
			log.Error().Err(err).Msg("error during server shutdown")
		}
	}()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// bankHandler adapts a demobank.Bank to http.Handler, logging every request
// and response with a client address, a hex dump of the body, and the
// active-connection gauge.
func bankHandler(bank *demobank.Bank) http.Handler {
	var activeConns int64
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&activeConns, 1)
		defer atomic.AddInt64(&activeConns, -1)

		start := time.Now()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		log.Info().
			Str("event", "request_received").
			Str("client_ip", r.RemoteAddr).
			Str("request_hex", hex.EncodeToString(body)).
			Int64("active_connections", atomic.LoadInt64(&activeConns)).
			Msg("received ebics request")

		status, contentType, respBody := bank.Handle(r.Context(), body)

		log.Info().
			Str("event", "response_sent").
			Str("client_ip", r.RemoteAddr).
			Int("status", status).
			Str("response_hex", hex.EncodeToString(respBody)).
			Str("duration", time.Since(start).String()).
			Msg("sent ebics response")

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(respBody)))
		w.WriteHeader(status)
		_, _ = w.Write(respBody)
	})
}
