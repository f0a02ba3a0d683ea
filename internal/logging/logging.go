package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the specified debug mode and output format.
func InitLogger(debug, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano                 // always initialize base logger with timestamp.
	base := zerolog.New(os.Stdout).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel) // set debug level.
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // set info level.
	}
}

// LogEBICSRequest logs an outbound EBICS order with structured fields. orderData
// is logged as a hex digest rather than in full; EBICS order data routinely
// carries payment instructions and should not land whole in log output.
func LogEBICSRequest(
	connectionID string,
	orderType string,
	phase string,
	orderData []byte,
) {
	log.Info().
		Str("event", "ebics_request_sent").
		Str("connection_id", connectionID).
		Str("order_type", orderType).
		Str("phase", phase).
		Str("order_data_sha256", hex.EncodeToString(sha256Sum(orderData))).
		Msg("sent ebics order")
}

// LogEBICSResponse logs the codes an EBICS response carried back.
func LogEBICSResponse(
	connectionID string,
	orderType string,
	technicalCode string,
	businessCode string,
) {
	log.Info().
		Str("event", "ebics_response_received").
		Str("connection_id", connectionID).
		Str("order_type", orderType).
		Str("technical_code", technicalCode).
		Str("business_code", businessCode).
		Msg("received ebics response")
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
