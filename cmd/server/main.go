// Ticketflow triages new support tickets: it analyzes each ticket with an AI
// provider cascade, persists the result, assigns an owner and notifies them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/ticketflow/internal/analysis"
	"github.com/linnemanlabs/ticketflow/internal/assign"
	"github.com/linnemanlabs/ticketflow/internal/authmw"
	tc "github.com/linnemanlabs/ticketflow/internal/cfg"
	"github.com/linnemanlabs/ticketflow/internal/eventapi"
	"github.com/linnemanlabs/ticketflow/internal/eventsub"
	"github.com/linnemanlabs/ticketflow/internal/llm"
	"github.com/linnemanlabs/ticketflow/internal/notify"
	"github.com/linnemanlabs/ticketflow/internal/notify/mail"
	"github.com/linnemanlabs/ticketflow/internal/notify/slack"
	"github.com/linnemanlabs/ticketflow/internal/postgres"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
	"github.com/linnemanlabs/ticketflow/internal/ticket/memstore"
	"github.com/linnemanlabs/ticketflow/internal/ticket/pgstore"
	"github.com/linnemanlabs/ticketflow/internal/workflow"
	"github.com/linnemanlabs/ticketflow/internal/workflow/memlog"
	"github.com/linnemanlabs/ticketflow/internal/workflow/pglog"
	"github.com/linnemanlabs/ticketflow/internal/workflow/redislog"
)

const appName = "ticketflow"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// ticketBackend is what the workflow needs from a ticket store.
type ticketBackend interface {
	ticket.Store
	ticket.UserStore
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	var (
		appCfg    tc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// a local .env only fills variables the environment does not set
	if err := loadDotEnv(".env"); err != nil {
		return err
	}

	// env vars with prefix TICKETFLOW_ do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "TICKETFLOW_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	llmSettings := llm.Settings{
		OpenRouter:  llm.Provider{APIKey: appCfg.OpenRouterAPIKey, Model: appCfg.OpenRouterModel},
		HuggingFace: llm.Provider{APIKey: appCfg.HuggingFaceAPIKey, Model: appCfg.HuggingFaceModel},
		Gemini:      llm.Provider{APIKey: appCfg.GeminiAPIKey, Model: appCfg.GeminiModel},
		Grok:        llm.Provider{APIKey: appCfg.GrokAPIKey, Model: appCfg.GrokModel},
		DeepSeek:    llm.Provider{APIKey: appCfg.DeepSeekAPIKey, Model: appCfg.DeepSeekModel},
		OpenAI:      llm.Provider{APIKey: appCfg.OpenAIAPIKey, Model: appCfg.OpenAIModel},
		Claude:      llm.Provider{APIKey: appCfg.ClaudeAPIKey, Model: appCfg.ClaudeModel},
		HTTPClient:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"step_log", appCfg.StepLogBackend(),
		"ticket_store", map[bool]string{true: "postgres", false: "memory"}[appCfg.DatabaseURL != ""],
		"nats", appCfg.NATSURL != "",
		"api_auth", len(appCfg.Tokens()) > 0,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// tag spans with profile IDs so traces link to pyroscope profiles
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketflow_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)
	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, source, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(source, outcome).Observe(dur.Seconds())
		},
	))

	var pool *pgxpool.Pool
	if appCfg.DatabaseURL != "" {
		pool, err = postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	tickets, err := openTicketStore(ctx, L, pool, appCfg.SeedFile)
	if err != nil {
		return err
	}

	stepLog, closeStepLog, err := openStepLog(ctx, L, &appCfg, pool)
	if err != nil {
		return err
	}
	defer closeStepLog()

	analysisMetrics := analysis.NewMetrics(m.Registry())
	adapters := llm.Build(llmSettings)
	cascade := analysis.New(adapters, analysis.Config{
		MaxAttempts: appCfg.AnalysisMaxAttempts,
		BaseDelay:   appCfg.AnalysisBaseDelay,
		MaxDelay:    appCfg.AnalysisMaxDelay,
		CallTimeout: appCfg.AnalysisCallTimeout,
	}, L, analysisMetrics.Hooks())
	if len(adapters) == 0 {
		L.Warn(ctx, "no AI provider configured, every analysis will use the fallback")
	} else {
		L.Info(ctx, "analysis cascade ready", "providers", cascade.Providers())
	}

	var mailer notify.Mailer = mail.LogMailer{Logger: L}
	if appCfg.ResendAPIKey != "" {
		mailer = mail.New(appCfg.ResendAPIKey, appCfg.MailFrom)
		L.Info(ctx, "notifier enabled", "type", "email", "from", appCfg.MailFrom)
	}
	var channel notify.Channel
	if appCfg.SlackWebhookURL != "" {
		channel = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	workflowMetrics := workflow.NewMetrics(m.Registry())
	orch := workflow.NewOrchestrator(workflow.Deps{
		Tickets:  tickets,
		Analyzer: cascade,
		Resolver: assign.New(tickets),
		Notifier: notify.New(mailer, channel, appCfg.NotifyTimeout, L),
		Log:      stepLog,
	}, workflow.Config{
		StepMaxAttempts: appCfg.StepMaxAttempts,
		StepBaseDelay:   appCfg.StepBaseDelay,
		StepMaxDelay:    appCfg.StepMaxDelay,
		StoreTimeout:    appCfg.StoreTimeout,
	}, L, workflowMetrics.Hooks())
	svc := workflow.NewService(orch, stepLog, L, workflowMetrics.OnSubmit)

	var nc *nats.Conn
	var sub *eventsub.Subscriber
	if appCfg.NATSURL != "" {
		nc, err = eventsub.Connect(appCfg.NATSURL, L)
		if err != nil {
			return err
		}
		defer nc.Close()
		sub = eventsub.New(svc, L)
		if err := sub.Subscribe(nc, appCfg.NATSSubject, appCfg.NATSQueue); err != nil {
			return err
		}
	}

	// fails readiness during shutdown so the load balancer drains us first
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerTokens(L, appCfg.Tokens()...))
		eventapi.New(L, svc).RegisterRoutes(r)
	})

	// outermost wrapper sees the raw request first and the response last
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start event api http listener")
		return err
	}

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// intake first, then in-flight runs, then telemetry
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"event api http server", apiHTTPStop},
		{"nats subscriber", func(context.Context) error {
			if sub == nil {
				return nil
			}
			return sub.Drain()
		}},
		{"workflow service", svc.Shutdown},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete", "runs_abandoned", svc.InFlight())
	return nil
}

// loadDotEnv loads path when it exists.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func openTicketStore(ctx context.Context, L log.Logger, pool *pgxpool.Pool, seedFile string) (ticketBackend, error) {
	if pool == nil {
		store := memstore.New()
		if seedFile != "" {
			seed, err := store.LoadSeedFile(seedFile)
			if err != nil {
				return nil, err
			}
			L.Info(ctx, "seeded in-memory store", "users", len(seed.Users), "tickets", len(seed.Tickets))
		}
		L.Info(ctx, "using in-memory ticket store (no database-url configured)")
		return store, nil
	}

	store := pgstore.New(pool)
	if seedFile != "" {
		// the memstore loader fills IDs and defaults; its records are then
		// written through
		seed, err := memstore.New().LoadSeedFile(seedFile)
		if err != nil {
			return nil, err
		}
		for i := range seed.Users {
			if err := store.PutUser(ctx, &seed.Users[i]); err != nil {
				return nil, err
			}
		}
		for i := range seed.Tickets {
			if err := store.PutTicket(ctx, &seed.Tickets[i]); err != nil {
				return nil, err
			}
		}
		L.Info(ctx, "seeded postgres store", "users", len(seed.Users), "tickets", len(seed.Tickets))
	}
	L.Info(ctx, "using postgres ticket store")
	return store, nil
}

func openStepLog(ctx context.Context, L log.Logger, c *tc.Config, pool *pgxpool.Pool) (workflow.StepLog, func(), error) {
	switch c.StepLogBackend() {
	case tc.StepLogPostgres:
		L.Info(ctx, "using postgres step log")
		return pglog.New(pool), func() {}, nil
	case tc.StepLogRedis:
		client, err := redislog.Dial(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		L.Info(ctx, "using redis step log", "ttl", c.StepRecordTTL.String())
		return redislog.New(client, c.StepRecordTTL), func() { _ = client.Close() }, nil
	default:
		L.Warn(ctx, "using in-memory step log, replays do not survive a restart")
		return memlog.New(), func() {}, nil
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr is from systemd, not user input
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
