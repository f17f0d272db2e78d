package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"matchbook/internal/common"
	matchNet "matchbook/internal/net"
	"matchbook/internal/report"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username attached to placed orders")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'book', 'trades']")

	// Order Parameters
	ticker := flag.String("ticker", "AAPL", "Instrument symbol")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	priceStr := flag.String("price", "100", "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,0.5)")

	// Cancel Parameters
	orderID := flag.String("uuid", "", "UUID of the order to cancel")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn, stop)

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		side, err := common.ParseSide(*sideStr)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid side")
		}
		price, err := decimal.NewFromString(*priceStr)
		if err != nil {
			log.Fatal().Err(err).Str("price", *priceStr).Msg("invalid price")
		}
		for _, qty := range parseQuantities(*qtyStr) {
			request := matchNet.NewOrderRequest(*ticker, side, price, qty, *owner)
			if err := send(conn, request); err != nil {
				log.Error().Err(err).Stringer("qty", qty).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s Order: %s %s @ %s\n", side, *ticker, qty, price)
		}

	case "cancel":
		id, err := uuid.Parse(*orderID)
		if err != nil {
			log.Fatal().Err(err).Msg("-uuid must be a valid order id")
		}
		if err := send(conn, matchNet.CancelOrderRequest(id)); err != nil {
			log.Error().Err(err).Msg("failed to send cancel request")
		} else {
			fmt.Printf("-> Sent Cancel Request for UUID: %s\n", id)
		}

	case "book", "trades":
		typeOf := matchNet.QueryBook
		if strings.ToLower(*action) == "trades" {
			typeOf = matchNet.QueryTrades
		}
		if err := send(conn, matchNet.QueryRequest(typeOf, *ticker)); err != nil {
			log.Error().Err(err).Msg("failed to send query")
		} else {
			fmt.Printf("-> Sent %s Query for %s\n", *action, *ticker)
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	<-ctx.Done()
}

func send(conn net.Conn, message matchNet.Message) error {
	b, err := message.Serialize()
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

// parseQuantities splits a comma-separated string into decimal quantities.
func parseQuantities(input string) []decimal.Decimal {
	var result []decimal.Decimal
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := decimal.NewFromString(p); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

// readReports continuously reads and prints reports from the server until the
// connection drops.
func readReports(conn net.Conn, stop context.CancelFunc) {
	defer stop()
	for {
		r, err := matchNet.ReadReport(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("connection lost")
			}
			return
		}
		printReport(r)
	}
}

func printReport(r matchNet.Report) {
	switch r.MessageType {
	case matchNet.ErrorReport:
		fmt.Printf("\n[SERVER ERROR] %s\n", r.Err)
	case matchNet.ExecutionReport:
		fmt.Println("\n[EXECUTION]")
		ack := common.Ack{
			OrderUUID:  r.UUID,
			Side:       r.Side,
			Price:      r.Price,
			Quantity:   r.Quantity,
			Instrument: r.Ticker,
			Timestamp:  time.Unix(0, int64(r.Timestamp)),
		}
		if err := report.WriteAck(os.Stdout, ack); err != nil {
			log.Error().Err(err).Msg("unable to print execution")
		}
	case matchNet.PlacedReport:
		fmt.Printf("\n[PLACED] %s %s | Remaining: %s @ %s | Order: %s\n", r.Side, r.Ticker, r.Quantity, r.Price, r.UUID)
	case matchNet.CancelReport:
		if r.Err != "" {
			fmt.Printf("\n[CANCEL] %s: %s\n", r.UUID, r.Err)
		} else {
			fmt.Printf("\n[CANCEL] %s cancelled, %s unfilled\n", r.UUID, r.Quantity)
		}
		printPayload(r.Payload)
	case matchNet.BookReport:
		fmt.Printf("\n[%s]\n", r.Ticker)
		printPayload(r.Payload)
	case matchNet.TradesReport:
		fmt.Printf("\n[%s TRADES]\n", r.Ticker)
		var trades []common.Trade
		if err := json.Unmarshal(r.Payload, &trades); err != nil {
			log.Error().Err(err).Msg("unable to decode trades")
			printPayload(r.Payload)
			return
		}
		if err := report.WriteTrades(os.Stdout, trades); err != nil {
			log.Error().Err(err).Msg("unable to print trades")
		}
	default:
		fmt.Printf("\n[UNKNOWN REPORT %d]\n", r.MessageType)
	}
}

func printPayload(payload []byte) {
	if len(payload) == 0 {
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, payload, "", "  "); err != nil {
		fmt.Println(string(payload))
		return
	}
	fmt.Println(out.String())
}
