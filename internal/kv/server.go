package kv

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/leonardcser/tiercache/internal/logger"
)

// Server exposes a KV over a stream listener using the JSON protocol.
type Server struct {
	kv KV
	wg sync.WaitGroup
}

func NewServer(store KV) *Server {
	return &Server{kv: store}
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// It closes the listener on return and waits for open connections.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	defer s.wg.Wait()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, errors.CodeNetwork, "accept")
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		if err := enc.Encode(s.handle(ctx, req)); err != nil {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpGet:
		v, err := s.kv.Get(ctx, req.Key)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Value: v}
	case OpPut:
		ttl := time.Duration(req.TTLSeconds) * time.Second
		if err := s.kv.Put(ctx, req.Key, req.Value, ttl); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpDelete:
		if err := s.kv.Delete(ctx, req.Key); err != nil {
			return failure(err)
		}
		return Response{OK: true}
	case OpScan:
		keys, err := s.kv.Scan(ctx, req.Pattern)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Keys: keys}
	case OpFlush:
		if err := s.kv.FlushAll(ctx); err != nil {
			return failure(err)
		}
		logger.Warnf("shared store flushed by client request")
		return Response{OK: true}
	default:
		return Response{OK: false, Code: string(errors.CodeInvalidInput), Error: "unknown op " + req.Op}
	}
}

func failure(err error) Response {
	resp := Response{OK: false, Error: err.Error()}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		resp.Code = string(code)
	}
	if !IsMiss(err) {
		logger.Warnf("kv request failed: %v", err)
	}
	return resp
}
