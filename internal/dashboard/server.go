package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dellyyty/gex-tool/internal/gex"
	"github.com/Dellyyty/gex-tool/internal/logger"
)

// Server exposes the latest report over HTTP.
type Server struct {
	holder          *Holder
	clock           *marketClock
	strikeIncrement float64
	router          *mux.Router
	httpServer      *http.Server
}

// NewServer wires the routes. strikeIncrement picks the highlighted ATM
// row in the HTML ladder.
func NewServer(listenAddr string, holder *Holder, strikeIncrement float64) *Server {
	s := &Server{
		holder:          holder,
		clock:           newMarketClock(),
		strikeIncrement: strikeIncrement,
		router:          mux.NewRouter(),
	}

	s.router.HandleFunc("/", s.handleLadder).Methods("GET")
	s.router.HandleFunc("/api/gex", s.handleReport).Methods("GET")
	s.router.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.httpServer = &http.Server{
		Addr:              listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains with a short grace
// period. Blocks.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Dashboard listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, fetchedAt, fresh := s.holder.Get()
	if report == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "no report yet")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !fresh {
		w.Header().Set("X-Stale", "true")
	}
	w.Header().Set("X-Fetched-At", fetchedAt.UTC().Format(time.RFC3339))
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logger.Error("Failed to encode report: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, fetchedAt, fresh := s.holder.Get()
	status := struct {
		MarketOpen  bool      `json:"market_open"`
		ReportFresh bool      `json:"report_fresh"`
		FetchedAt   time.Time `json:"fetched_at"`
		Now         time.Time `json:"now"`
	}{
		MarketOpen:  s.clock.IsOpen(time.Now()),
		ReportFresh: fresh,
		FetchedAt:   fetchedAt.UTC(),
		Now:         time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status) //nolint:errcheck
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg}) //nolint:errcheck
}

// ladderRow is one rendered table row.
type ladderRow struct {
	Strike       string
	ATM          bool
	Cells        []string
	Aggregate    string
	NetContracts string
}

type ladderView struct {
	Symbol         string
	Spot           string
	Source         string
	GeneratedAt    string
	Stale          bool
	Expirations    []string
	AggregateLabel string
	Rows           []ladderRow
	Flip           string
	HasFlip        bool
}

func (s *Server) handleLadder(w http.ResponseWriter, r *http.Request) {
	report, _, fresh := s.holder.Get()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if report == nil {
		fmt.Fprint(w, "<html><body><p>Waiting for first chain fetch...</p></body></html>")
		return
	}

	atm := gex.ATMStrike(report.SpotPrice, s.strikeIncrement)
	view := ladderView{
		Symbol:         report.Symbol,
		Spot:           fmt.Sprintf("%.2f", report.SpotPrice),
		Source:         report.Source,
		GeneratedAt:    report.GeneratedAt.Format("2006-01-02 15:04:05 MST"),
		Stale:          !fresh,
		Expirations:    report.Surface.Expirations,
		AggregateLabel: fmt.Sprintf("0-%d DTE", report.Surface.AggregateDTE),
	}
	if flip, ok := gex.ZeroGammaFlip(report.GEXByStrike, report.SpotPrice); ok {
		view.Flip = fmt.Sprintf("%.0f", flip)
		view.HasFlip = true
	}

	for _, row := range report.Surface.Rows {
		lr := ladderRow{
			Strike:       fmt.Sprintf("%.0f", row.Strike),
			ATM:          row.Strike == atm,
			Aggregate:    gex.FormatValue(row.Aggregate),
			NetContracts: gex.FormatValue(row.NetContracts),
		}
		for _, v := range row.ByExpiration {
			lr.Cells = append(lr.Cells, gex.FormatValue(v))
		}
		view.Rows = append(view.Rows, lr)
	}

	if err := ladderTemplate.Execute(w, view); err != nil {
		logger.Error("Failed to render ladder: %v", err)
	}
}

var ladderTemplate = template.Must(template.New("ladder").Parse(`<!DOCTYPE html>
<html>
<head>
<title>{{.Symbol}} GEX</title>
<meta http-equiv="refresh" content="30">
<style>
body { background: #14161a; color: #d4d4d4; font-family: "SF Mono", Menlo, monospace; margin: 2em; }
h1 { font-size: 1.2em; color: #e8e8e8; }
.meta { color: #888; margin-bottom: 1em; }
.stale { color: #e0af68; }
table { border-collapse: collapse; }
th, td { padding: 3px 12px; text-align: right; border-bottom: 1px solid #24262b; }
th { color: #7aa2f7; }
td.strike { color: #e8e8e8; font-weight: bold; }
tr.atm td { background: #283040; }
td.neg { color: #f7768e; }
td.pos { color: #9ece6a; }
</style>
</head>
<body>
<h1>{{.Symbol}} Dealer Gamma Exposure</h1>
<div class="meta">
Spot {{.Spot}} | Source {{.Source}} | {{.GeneratedAt}}
{{- if .HasFlip}} | Zero gamma {{.Flip}}{{end}}
{{- if .Stale}} | <span class="stale">STALE</span>{{end}}
</div>
<table>
<tr>
<th>Strike</th>
{{- range .Expirations}}<th>{{.}}</th>{{end}}
<th>{{.AggregateLabel}}</th>
<th>Net OI</th>
</tr>
{{- range .Rows}}
<tr{{if .ATM}} class="atm"{{end}}>
<td class="strike">{{.Strike}}</td>
{{- range .Cells}}<td>{{.}}</td>{{end}}
<td>{{.Aggregate}}</td>
<td>{{.NetContracts}}</td>
</tr>
{{- end}}
</table>
</body>
</html>
`))
