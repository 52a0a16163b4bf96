package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gridshield/backend/internal/events"
)

// SyslogCollector listens for UDP syslog datagrams and publishes each as a
// log envelope on the ingestion bus.
type SyslogCollector struct {
	addr string
	pub  events.LogPublisher
	log  *slog.Logger

	conn net.PacketConn
	wg   sync.WaitGroup
	stop chan struct{}
}

func NewSyslogCollector(addr string, pub events.LogPublisher, log *slog.Logger) *SyslogCollector {
	return &SyslogCollector{
		addr: addr,
		pub:  pub,
		log:  log,
		stop: make(chan struct{}),
	}
}

func (c *SyslogCollector) Start() error {
	conn, err := net.ListenPacket("udp", c.addr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.log.Info("syslog collector listening", "addr", c.addr)

	c.wg.Add(1)
	go c.receiveLoop()
	return nil
}

func (c *SyslogCollector) Stop() {
	close(c.stop)
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()
	c.log.Info("syslog collector stopped")
}

func (c *SyslogCollector) receiveLoop() {
	defer c.wg.Done()
	buf := make([]byte, 8192)
	for {
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.stop:
				return
			default:
				c.log.Error("syslog read", "error", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		line := strings.TrimRight(string(buf[:n]), "\r\n")
		if line == "" {
			continue
		}
		host, _, _ := net.SplitHostPort(addr.String())
		env := &events.LogEnvelope{
			Raw:    line,
			Source: "syslog",
			Metadata: map[string]interface{}{
				"remote_addr": host,
			},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.pub.PublishLog(ctx, env); err != nil {
			c.log.Error("publish syslog line", "error", err)
		}
		cancel()
	}
}

// FileTailCollector polls a log file for appended lines and publishes each
// as a log envelope. Truncation (rotation in place) resets the offset.
type FileTailCollector struct {
	path     string
	interval time.Duration
	pub      events.LogPublisher
	log      *slog.Logger

	offset int64
	wg     sync.WaitGroup
	stop   chan struct{}
}

func NewFileTailCollector(path string, interval time.Duration, pub events.LogPublisher, log *slog.Logger) *FileTailCollector {
	if interval <= 0 {
		interval = time.Second
	}
	return &FileTailCollector{
		path:     path,
		interval: interval,
		pub:      pub,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (c *FileTailCollector) Start() {
	// Start at the current end so restarts do not replay the whole file;
	// the bus, not the tailer, is the replay mechanism.
	if info, err := os.Stat(c.path); err == nil {
		c.offset = info.Size()
	}
	c.wg.Add(1)
	go c.pollLoop()
	c.log.Info("file tail collector started", "path", c.path)
}

func (c *FileTailCollector) Stop() {
	close(c.stop)
	c.wg.Wait()
	c.log.Info("file tail collector stopped", "path", c.path)
}

func (c *FileTailCollector) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.readNewLines()
		case <-c.stop:
			return
		}
	}
}

func (c *FileTailCollector) readNewLines() {
	f, err := os.Open(c.path)
	if err != nil {
		return // file may not exist yet
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < c.offset {
		c.offset = 0 // truncated
	}
	if info.Size() == c.offset {
		return
	}
	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return
	}

	buf := make([]byte, info.Size()-c.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return
	}
	buf = buf[:n]

	// Consume only up to the last newline. A final line still being
	// appended by the writer stays in the file for the next poll so it is
	// never published truncated.
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return
	}

	for _, line := range strings.Split(string(buf[:end]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		env := &events.LogEnvelope{
			Raw:    line,
			Source: "file",
			Metadata: map[string]interface{}{
				"file_path": c.path,
			},
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.pub.PublishLog(ctx, env); err != nil {
			c.log.Error("publish tailed line", "path", c.path, "error", err)
		}
		cancel()
	}
	c.offset += int64(end) + 1
}
