// Command x402demo wires the Payment Gate, facilitator/chain validator
// backends, and the chi adapter together behind one paywalled endpoint. It
// exists to exercise the library end-to-end the way the teacher's
// examples/chi and examples/basic commands do; it is demo wiring, not part
// of the specified core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/x402gate/x402"
	"github.com/x402gate/x402/chain"
	"github.com/x402gate/x402/facilitator"
	gatepkg "github.com/x402gate/x402/gate"
	gatechi "github.com/x402gate/x402/gatehttp/chi"
	"github.com/x402gate/x402/replaystore"
	"github.com/x402gate/x402/validator"
)

func main() {
	port := flag.String("port", "8080", "server port")
	network := flag.String("network", "base-sepolia", "network to accept payments on")
	payTo := flag.String("pay-to", "", "address to receive payments (required)")
	amount := flag.String("amount", "100000", "payment amount, smallest token unit")
	facilitatorURL := flag.String("facilitator", "", "facilitator URL (optional; chain-only if empty)")
	rpcURL := flag.String("rpc", "", "EVM JSON-RPC URL for the chain backend (optional)")
	flag.Parse()

	if *payTo == "" {
		fmt.Println("Error: --pay-to is required")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *facilitatorURL == "" && *rpcURL == "" {
		fmt.Println("Error: at least one of --facilitator or --rpc is required")
		os.Exit(1)
	}

	method, err := x402.NewUSDCPaymentMethod(*network, *payTo, *amount, *amount, 300_000, "Access to paywalled content")
	if err != nil {
		log.Fatalf("invalid payment method: %v", err)
	}

	var backends []validator.Backend
	var order []x402.ValidatorBackendName
	if *facilitatorURL != "" {
		backends = append(backends, facilitator.NewBackend(*facilitatorURL))
		order = append(order, x402.BackendFacilitator)
	}
	if *rpcURL != "" {
		client, err := chain.Dial(context.Background(), *rpcURL)
		if err != nil {
			log.Fatalf("dial chain RPC: %v", err)
		}
		backends = append(backends, chain.NewBackend(map[string]chain.Client{*network: client}))
		order = append(order, x402.BackendChain)
	}

	cfg := x402.GateConfig{
		Method: x402.GateMethodConfig{
			FacilitatorURL: *facilitatorURL,
			RPCURL:         *rpcURL,
			Network:        *network,
			Asset:          method.Asset,
			Recipient:      method.Recipient,
			PaymentAmount:  *amount,
		},
		ValidatorOrder: order,
	}

	cascade := validator.NewCascade(backends...)
	store := replaystore.NewInMemoryStore(24 * time.Hour)
	g, err := gatepkg.New(method, cfg, cascade, store)
	if err != nil {
		log.Fatalf("construct gate: %v", err)
	}
	g.Logger = slog.Default()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/public", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"free endpoint, no payment required"}`))
	})

	r.Route("/", func(r chi.Router) {
		r.Use(gatechi.Middleware(g))
		r.Get("/data", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"message":"paywalled content unlocked"}`))
		})
	})

	fmt.Printf("x402demo listening on :%s (network=%s pay-to=%s amount=%s)\n", *port, *network, *payTo, *amount)
	if err := http.ListenAndServe(":"+*port, r); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
