package reporter

import (
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Reporter streams Status and CrashEvent updates to any connected
// HTTP/3 clients hitting GET /status or /crashes, adapted from the
// netstack package's HTTP3Server wrapper: same TLS-1.3-enforced server
// bring-up, retargeted from a generic handler to a small in-memory
// broadcast of fuzzing events.
type HTTP3Reporter struct {
	addr string

	mu         sync.Mutex
	lastStatus Status
	crashLog   []CrashEvent

	srv   *http3.Server
	pc    net.PacketConn
	errC  chan error
	close func() error
}

// NewHTTP3Reporter builds a reporter bound to addr. If certFile/keyFile
// are empty, a self-signed dev certificate is generated in-memory via
// GenerateSelfSignedTLS, matching the certutil.go helper.
func NewHTTP3Reporter(addr, certFile, keyFile string) (*HTTP3Reporter, error) {
	var (
		tlsCfg *tls.Config
		err    error
	)

	if certFile != "" && keyFile != "" {
		tlsCfg, err = LoadTLSConfig(certFile, keyFile)
	} else {
		tlsCfg, err = GenerateSelfSignedTLS([]string{"localhost"}, 30*24*time.Hour)
	}

	if err != nil {
		return nil, err
	}

	r := &HTTP3Reporter{addr: addr, errC: make(chan error, 1)}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/crashes", r.handleCrashes)

	if tlsCfg.MinVersion < tls.VersionTLS13 {
		tlsCfg.MinVersion = tls.VersionTLS13
	}

	if len(tlsCfg.NextProtos) == 0 {
		tlsCfg.NextProtos = []string{"h3"}
	}

	r.srv = &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: mux, QUICConfig: &quic.Config{}}

	return r, nil
}

func (r *HTTP3Reporter) handleStatus(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	s := r.lastStatus
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (r *HTTP3Reporter) handleCrashes(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	events := append([]CrashEvent(nil), r.crashLog...)
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

// ReportStatus records the latest status for the next /status poll.
func (r *HTTP3Reporter) ReportStatus(s Status) {
	r.mu.Lock()
	r.lastStatus = s
	r.mu.Unlock()
}

// ReportCrash appends a crash event, capping the in-memory log so a long
// run never grows it unbounded.
func (r *HTTP3Reporter) ReportCrash(c CrashEvent) {
	const maxLog = 1000

	r.mu.Lock()
	r.crashLog = append(r.crashLog, c)

	if len(r.crashLog) > maxLog {
		r.crashLog = r.crashLog[len(r.crashLog)-maxLog:]
	}

	r.mu.Unlock()
}

// Error returns a non-blocking channel that receives the first serve
// error, if any, mirroring HTTP3Server.Error.
func (r *HTTP3Reporter) Error() <-chan error { return r.errC }

// Start binds the UDP socket and begins serving in the background,
// returning the actual bound address (useful when addr ends in ":0").
func (r *HTTP3Reporter) Start() (string, error) {
	pc, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return "", err
	}

	r.pc = pc
	realAddr := pc.LocalAddr().String()
	done := make(chan struct{})

	go func() {
		if err := r.srv.Serve(pc); err != nil {
			select {
			case r.errC <- err:
			default:
			}
		}

		close(done)
	}()

	r.close = func() error {
		_ = pc.Close()

		select {
		case <-done:
		case <-time.After(time.Second):
		}

		return nil
	}

	return realAddr, nil
}

// Stop shuts the reporter's listener down.
func (r *HTTP3Reporter) Stop() error {
	if r.close != nil {
		return r.close()
	}

	return nil
}
