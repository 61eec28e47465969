package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/getsentry/sentry-go"
	"github.com/opentracing/opentracing-go"
	jcfg "github.com/uber/jaeger-client-go/config"

	"github.com/bgpsec/roafetch/broker"
	"github.com/bgpsec/roafetch/config"
	"github.com/bgpsec/roafetch/pfxtable"
	"github.com/bgpsec/roafetch/roa"
)

var (
	version    = ""
	buildinfos = ""
	AppVersion = "roafetch " + version + " " + buildinfos

	// Validation options
	ProjectsCollectors = flag.String("ppcc", "", "Projects and collectors, e.g. FU-Berlin:(CC01-AMSIX,CC19-LINX);RIPE:(*)")
	TimeIntervals      = flag.String("intervals", "", "UTC epoch timestamps separated by comma, consecutive pairs form windows")
	Unified            = flag.Bool("unified", false, "Merge all project/collector scopes into one ROA set")
	ValidationMode     = flag.String("validation", "historical", "Validation mode (live/historical)")
	Staleness          = flag.Duration("roa.staleness", 0, "Max drift past a snapshot before the instant counts as a coverage gap (0 disables)")

	// Broker options
	BrokerURL  = flag.String("broker.url", "https://roa-broker.realmv6.org/broker", "Broker URL")
	SSHOptions = flag.String("ssh.options", "", "SSH user, privkey and hostkey for the broker transport, separated by comma")

	Mode    = flag.String("mode", "oneoff", "Select output mode (server/oneoff)")
	Refresh = flag.Duration("refresh", time.Minute*20, "Refetch interval in server mode")

	// Serving options
	Addr        = flag.String("http.addr", ":8082", "Listening address")
	MetricsPath = flag.String("http.metrics", "/metrics", "Prometheus metrics endpoint")
	InfoPath    = flag.String("http.info", "/infos", "Information URL")
	HealthPath  = flag.String("http.health", "/health", "Health URL")

	CorsOrigins = flag.String("cors.origins", "*", "Cors origins separated by comma")
	CorsCreds   = flag.Bool("cors.creds", false, "Cors enable credentials")

	// File option
	Output = flag.String("output.roa", "output.json", "Output ROA file or empty for stdout")

	LogLevel = flag.String("loglevel", "info", "Log level")

	// Debugging options
	Tracer    = flag.Bool("tracer", false, "Enable tracer")
	SentryDSN = flag.String("sentry.dsn", "", "Send errors to Sentry")

	Version = flag.Bool("version", false, "Print version")
)

var (
	MetricSnapshotCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snapshots",
			Help: "Snapshot timestamps indexed per scope.",
		},
		[]string{"scope"},
	)
	MetricROAsCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "roas",
			Help: "ROA records inserted into the prefix table.",
		},
		[]string{"scope"},
	)
	MetricDroppedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropped_records",
			Help: "Malformed ROA records skipped during import.",
		},
		[]string{"scope"},
	)
	MetricGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverage_gaps",
			Help: "Resolved instants falling into an uncovered gap.",
		},
		[]string{"scope"},
	)
	MetricBrokerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_errors",
			Help: "Broker listing failures.",
		},
	)
	MetricLastImport = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "last_import",
			Help: "Timestamp of last completed import run.",
		},
	)
	MetricOperationTime = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "operation_time",
			Help:       "Time to run an operation.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"type"},
	)
)

type scopeStats struct {
	Scope     string `json:"scope"`
	Snapshots int    `json:"snapshots"`
	Inserted  int    `json:"records"`
	Dropped   int    `json:"dropped"`
	Gaps      int    `json:"gaps"`
}

type ROAFetch struct {
	cfg    *config.Config
	broker *broker.Client
	table  *pfxtable.Table

	lastImport time.Time
	stats      []scopeStats
	statsMu    sync.RWMutex

	tracer opentracing.Tracer
}

func NewROAFetch(cfg *config.Config, brokerClient *broker.Client) *ROAFetch {
	return &ROAFetch{
		cfg:    cfg,
		broker: brokerClient,
		table:  pfxtable.NewTable(),
		stats:  make([]scopeStats, 0),
		tracer: opentracing.GlobalTracer(),
	}
}

func (s *ROAFetch) fetchListing(pSpan opentracing.Span) error {
	span := s.tracer.StartSpan("broker", opentracing.ChildOf(pSpan.Context()))
	defer span.Finish()

	t1 := time.Now()
	err := s.broker.FetchConfig(s.cfg)
	MetricOperationTime.With(prometheus.Labels{"type": "broker"}).Observe(time.Since(t1).Seconds())

	if err != nil {
		MetricBrokerErrors.Inc()
		span.SetTag("error", true)
		sentry.WithScope(func(scope *sentry.Scope) {
			if errC, ok := err.(interface{ SetSentryScope(*sentry.Scope) }); ok {
				errC.SetSentryScope(scope)
			}
			sentry.CaptureException(err)
		})
	}
	return err
}

// importScope walks the scope's snapshots in increasing order and
// imports every covered instant into the prefix table.
func (s *ROAFetch) importScope(scope config.Scope, pSpan opentracing.Span) (scopeStats, error) {
	span := s.tracer.StartSpan("import", opentracing.ChildOf(pSpan.Context()))
	defer span.Finish()
	span.SetTag("scope", scope.String())

	stats := scopeStats{Scope: scope.String()}

	start, _, err := s.cfg.Coverage(scope)
	if err != nil {
		return stats, err
	}

	for ts := start; ts != 0; {
		res, err := s.cfg.GetTimestamps(scope, ts)
		if err != nil {
			return stats, err
		}
		if res.Gap {
			log.Infof("Coverage gap at %d for %v, skipping to %d", ts, scope, res.Next)
			MetricGaps.With(prometheus.Labels{"scope": scope.String()}).Inc()
			stats.Gaps++
			ts = res.Next
			continue
		}
		stats.Snapshots++

		result, err := roa.ParseURLs(s.cfg, strings.Join(res.URLs, ","), s.table)
		if err != nil {
			return stats, err
		}
		stats.Inserted += result.Inserted
		stats.Dropped += result.Dropped
		MetricDroppedRecords.With(prometheus.Labels{"scope": scope.String()}).Add(float64(result.Dropped))

		ts = s.cfg.NextTimestamp(scope, res.Current)
	}

	MetricSnapshotCount.With(prometheus.Labels{"scope": scope.String()}).Set(float64(stats.Snapshots))
	MetricROAsCount.With(prometheus.Labels{"scope": scope.String()}).Set(float64(stats.Inserted))
	return stats, nil
}

func (s *ROAFetch) run() error {
	span := s.tracer.StartSpan("operation")
	defer span.Finish()

	t1 := time.Now()
	defer func() {
		MetricOperationTime.With(prometheus.Labels{"type": "run"}).Observe(time.Since(t1).Seconds())
	}()

	if err := s.fetchListing(span); err != nil {
		return err
	}

	stats := make([]scopeStats, 0)
	for _, scope := range s.cfg.Scopes() {
		scopeStat, err := s.importScope(scope, span)
		if err != nil {
			return err
		}
		stats = append(stats, scopeStat)
	}

	s.statsMu.Lock()
	s.stats = stats
	s.lastImport = time.Now()
	s.statsMu.Unlock()
	MetricLastImport.Set(float64(s.lastImport.Unix()))

	return s.output()
}

func (s *ROAFetch) output() error {
	fc, err := json.Marshal(s.table.ToROAList())
	if err != nil {
		return fmt.Errorf("unable to marshal ROA list: %v", err)
	}

	if *Output == "" {
		fmt.Println(string(fc))
	} else {
		err := os.WriteFile(*Output, fc, 0600)
		if err != nil {
			return fmt.Errorf("Unable to write ROA list to %q: %v", *Output, err)
		}
	}

	return nil
}

type InfoResult struct {
	Scopes     []scopeStats `json:"scopes"`
	ROACount   int          `json:"roas-count"`
	LastImport int          `json:"import-last"`
}

func (s *ROAFetch) ServeInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	s.statsMu.RLock()
	ir := InfoResult{
		Scopes:     s.stats,
		ROACount:   s.table.Len(),
		LastImport: int(s.lastImport.Unix()),
	}
	s.statsMu.RUnlock()

	enc := json.NewEncoder(w)
	enc.Encode(ir)
}

func (s *ROAFetch) ServeROAs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.Encode(s.table.ToROAList())
}

func (s *ROAFetch) ServeHealth(w http.ResponseWriter, r *http.Request) {
	s.statsMu.RLock()
	ready := !s.lastImport.IsZero()
	s.statsMu.RUnlock()

	if ready {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("Not ready yet"))
}

// servePath maps the output target to a valid HTTP pattern. An empty
// target means stdout, the ROA list is still served at a default path.
func servePath(output string) string {
	if output == "" {
		return "/output.json"
	}
	if output[0] != '/' {
		return "/" + output
	}
	return output
}

func (s *ROAFetch) Serve(addr string, path string, metricsPath string, infoPath string, healthPath string, corsOrigin string, corsCreds bool) {
	fullPath := servePath(path)
	log.Infof("Serving HTTP on %v%v", addr, fullPath)

	r := http.NewServeMux()

	r.HandleFunc(fullPath, s.ServeROAs)
	r.HandleFunc(infoPath, s.ServeInfo)
	r.HandleFunc(healthPath, s.ServeHealth)
	r.Handle(metricsPath, promhttp.Handler())

	corsReq := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(corsOrigin, ","),
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowCredentials: corsCreds,
	}).Handler(r)

	log.Fatal(http.ListenAndServe(addr, corsReq))
}

func init() {
	prometheus.MustRegister(MetricSnapshotCount)
	prometheus.MustRegister(MetricROAsCount)
	prometheus.MustRegister(MetricDroppedRecords)
	prometheus.MustRegister(MetricGaps)
	prometheus.MustRegister(MetricBrokerErrors)
	prometheus.MustRegister(MetricLastImport)
	prometheus.MustRegister(MetricOperationTime)
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	flag.Parse()
	if *Version {
		fmt.Println(AppVersion)
		os.Exit(0)
	}

	lvl, _ := log.ParseLevel(*LogLevel)
	log.SetLevel(lvl)

	sentryDsn := *SentryDSN
	if sentryDsn == "" {
		sentryDsn = os.Getenv("SENTRY_DSN")
	}
	if sentryDsn != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn: sentryDsn,
		})
		if err != nil {
			log.Fatalf("failed initializing sentry: %s", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if *Tracer {
		tcfg, err := jcfg.FromEnv()
		if err != nil {
			log.Fatal(err)
		}
		tracer, closer, err := tcfg.NewTracer()
		if err != nil {
			log.Fatal(err)
		}
		defer closer.Close()
		opentracing.SetGlobalTracer(tracer)
	}

	var mode config.Mode
	switch *ValidationMode {
	case "live":
		mode = config.ModeLive
	case "historical":
		mode = config.ModeHistorical
	default:
		log.Fatalf("Validation mode %v is not specified. Choose either live or historical", *ValidationMode)
	}

	cfg, err := config.Create(*ProjectsCollectors, *TimeIntervals, *Unified, mode, *BrokerURL, *SSHOptions)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	cfg.MaxStaleness = uint32(Staleness.Seconds())

	log.Infof("Fetching ROAs for %v", cfg.Input.RenderSpec())

	s := NewROAFetch(cfg, broker.NewClient(*BrokerURL, *SSHOptions))

	if *Mode == "server" {
		go s.Serve(*Addr, *Output, *MetricsPath, *InfoPath, *HealthPath, *CorsOrigins, *CorsCreds)

		for {
			if err := s.run(); err != nil {
				log.Errorf("Import failed: %v", err)
			}
			log.Infof("Refetching in %v", *Refresh)
			<-time.After(*Refresh)
		}
	} else if *Mode != "oneoff" {
		log.Fatalf("Mode %v is not specified. Choose either server or oneoff", *Mode)
	}

	if err := s.run(); err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	if err := cfg.Destroy(); err != nil {
		log.Fatalf("Destroy failed: %v", err)
	}
}
