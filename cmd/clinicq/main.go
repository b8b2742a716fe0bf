package main

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"clinicq/internal/config"
	"clinicq/internal/httpapi"
	"clinicq/internal/hub"
	"clinicq/internal/notifier"
	"clinicq/internal/provision"
	"clinicq/internal/store/postgres"
	"clinicq/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("clinicq")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	location, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		log.Fatalf("load timezone %q: %v", cfg.ClinicTimezone, err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	provisioner := provision.New(st, location)
	worker := notifier.New(st, notifier.Config{
		BatchSize:     cfg.NotifBatchSize,
		MaxAttempts:   cfg.NotifMaxAttempts,
		SMSProvider:   cfg.SMSProvider,
		StaffProvider: cfg.StaffProvider,
	})
	handler := httpapi.NewHandler(st, provisioner, httpapi.Options{Location: location})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})
	h := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())
	mux.Handle("/board/", boardHandler(h))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "clinicq")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	go func() {
		log.Printf("clinicq listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	if cfg.ProvisionOnStart {
		go func() {
			ctx, cancel := context.WithTimeout(rootCtx, 2*time.Minute)
			defer cancel()
			summary, err := provisioner.RunWeek(ctx)
			if err != nil {
				log.Printf("startup provision error: %v", err)
				return
			}
			log.Printf("startup provision queues=%d entries=%d failures=%d", summary.QueuesProvisioned, summary.EntriesCreated, summary.Failures)
		}()
	}

	go provision.Start(rootCtx, provisioner)
	go notifier.Start(rootCtx, cfg.NotifInterval, worker)

	go func() {
		if cfg.LifecycleInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.LifecycleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
			result, err := st.AdvanceLifecycle(ctx, time.Now().In(location))
			cancel()
			if err != nil {
				log.Printf("lifecycle sweep error: %v", err)
				continue
			}
			if result.Activated > 0 || result.Completed > 0 || result.Promoted > 0 {
				log.Printf("lifecycle sweep activated=%d completed=%d promoted=%d", result.Activated, result.Completed, result.Promoted)
			}
		}
	}()

	go runBoardPoller(rootCtx, st, h, cfg.BoardPollInterval, cfg.BoardBatchSize)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// boardHandler serves the public waiting-room display over SockJS. No auth:
// the board shows queue numbers only, never patient identities.
func boardHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/board", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{
				ScheduleID: parsed.ScheduleID,
				QueueID:    parsed.QueueID,
			})
		}
	})
}

// runBoardPoller tails the outbox and fans events out to connected boards.
// The offset is kept in memory only; a restart replays nothing older than
// the process start, which is fine for a live display.
func runBoardPoller(ctx context.Context, st *postgres.Store, h *hub.Hub, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = time.Second
	}
	offset := time.Now().UTC()
	var running int32

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		events, err := st.ListOutboxEvents(pollCtx, offset, batchSize)
		cancel()
		if err != nil {
			log.Printf("board poll error: %v", err)
		} else {
			for _, event := range events {
				offset = event.CreatedAt
				env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
				payload, _ := json.Marshal(env)
				h.Broadcast(payload, extractMeta(event.Payload))
			}
		}
		atomic.StoreInt32(&running, 0)
	}
}

func extractMeta(payload []byte) hub.Subscription {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	return hub.Subscription{
		ScheduleID: str(data["schedule_id"]),
		QueueID:    str(data["queue_id"]),
	}
}

func str(value interface{}) string {
	if value == nil {
		return ""
	}
	if v, ok := value.(string); ok {
		return v
	}
	return fmt.Sprint(value)
}
