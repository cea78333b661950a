package redis

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeServer speaks enough RESP2 for the run state store: strings with
// expiry, INCR, DEL, MULTI/EXEC and the lock release script.
type fakeServer struct {
	ln net.Listener

	mu       sync.Mutex
	data     map[string]string
	ttls     map[string]time.Duration
	commands []string
}

// newFakeServer starts a server on a loopback port and returns a client
// connected to it. Both are closed when the test ends.
func newFakeServer(t *testing.T) (*fakeServer, *redis.Client) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		ln:   ln,
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
	go s.serve()

	client := redis.NewClient(&redis.Options{
		Addr:             ln.Addr().String(),
		DisableIndentity: true,
	})
	t.Cleanup(func() {
		_ = client.Close()
		_ = ln.Close()
	})
	return s, client
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	rd := bufio.NewReader(conn)

	var queued [][]string
	inMulti := false
	for {
		args, err := readCommand(rd)
		if err != nil {
			return
		}
		name := strings.ToUpper(args[0])

		var reply string
		switch {
		case name == "MULTI":
			s.record(args)
			inMulti = true
			reply = "+OK\r\n"
		case name == "EXEC":
			reply = fmt.Sprintf("*%d\r\n", len(queued))
			for _, q := range queued {
				reply += s.exec(q)
			}
			s.record(args)
			queued, inMulti = nil, false
		case inMulti:
			queued = append(queued, args)
			reply = "+QUEUED\r\n"
		default:
			reply = s.exec(args)
		}

		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func (s *fakeServer) exec(args []string) string {
	s.record(args)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return bulk(v)
	case "SET":
		return s.set(args[1], args[2], args[3:])
	case "DEL":
		n := 0
		for _, key := range args[1:] {
			if _, ok := s.data[key]; ok {
				delete(s.data, key)
				delete(s.ttls, key)
				n++
			}
		}
		return integer(n)
	case "INCR":
		n, err := strconv.Atoi(s.data[args[1]])
		if err != nil && s.data[args[1]] != "" {
			return "-ERR value is not an integer or out of range\r\n"
		}
		n++
		s.data[args[1]] = strconv.Itoa(n)
		return integer(n)
	case "EXPIRE":
		if _, ok := s.data[args[1]]; !ok {
			return integer(0)
		}
		secs, _ := strconv.Atoi(args[2])
		s.ttls[args[1]] = time.Duration(secs) * time.Second
		return integer(1)
	case "EVALSHA":
		return "-NOSCRIPT No matching script. Please use EVAL.\r\n"
	case "EVAL":
		if !strings.Contains(args[1], `redis.call("del"`) {
			return "-ERR unexpected script\r\n"
		}
		key, token := args[3], args[4]
		if v, ok := s.data[key]; ok && v == token {
			delete(s.data, key)
			delete(s.ttls, key)
			return integer(1)
		}
		return integer(0)
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
	}
}

func (s *fakeServer) set(key, value string, opts []string) string {
	var ttl time.Duration
	nx := false
	for i := 0; i < len(opts); i++ {
		switch strings.ToUpper(opts[i]) {
		case "EX":
			secs, _ := strconv.Atoi(opts[i+1])
			ttl = time.Duration(secs) * time.Second
			i++
		case "PX":
			ms, _ := strconv.Atoi(opts[i+1])
			ttl = time.Duration(ms) * time.Millisecond
			i++
		case "NX":
			nx = true
		}
	}

	if _, ok := s.data[key]; ok && nx {
		return "$-1\r\n"
	}
	s.data[key] = value
	if ttl > 0 {
		s.ttls[key] = ttl
	} else {
		delete(s.ttls, key)
	}
	return "+OK\r\n"
}

func (s *fakeServer) record(args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, strings.Join(append([]string{strings.ToUpper(args[0])}, args[1:]...), " "))
}

// Get returns the stored value of key.
func (s *fakeServer) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Put stores a value as if another client had written it.
func (s *fakeServer) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// TTL returns the expiry set on key, zero if none.
func (s *fakeServer) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Commands returns the commands received so far, upper-cased name first.
func (s *fakeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func readCommand(rd *bufio.Reader) ([]string, error) {
	line, err := readLine(rd)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("expected array, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad array length %q", line)
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := readLine(rd)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 || line[0] != '$' {
			return nil, fmt.Errorf("expected bulk string, got %q", line)
		}
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rd, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(rd *bufio.Reader) (string, error) {
	line, err := rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func bulk(v string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
}

func integer(n int) string {
	return fmt.Sprintf(":%d\r\n", n)
}
