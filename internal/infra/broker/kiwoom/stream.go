package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

const (
	streamReadLimit            = 1 << 20
	streamMaxReconnectInterval = 30 * time.Second

	trnmLogin = "LOGIN"
	trnmPing  = "PING"
	trnmReal  = "REAL"
	trnmReg   = "REG"

	// realTypeExecution is the realtime feed type for order executions.
	realTypeExecution = "00"
)

// Realtime field identifiers on execution frames.
const (
	fidStockCode    = "9001"
	fidStockName    = "302"
	fidOrderStatus  = "913"
	fidExecutedQty  = "911"
	fidExecutedPrc  = "910"
	fidExecutedTime = "908"
	fidCreditClass  = "917"
	fidOrderNo      = "9203"
	fidTradeKind    = "905"
)

type streamEnvelope struct {
	TrnM       string          `json:"trnm"`
	ReturnCode int             `json:"return_code"`
	ReturnMsg  string          `json:"return_msg"`
	Data       json.RawMessage `json:"data"`
}

type realFrame struct {
	Type   string            `json:"type"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

type loginFrame struct {
	TrnM  string `json:"trnm"`
	Token string `json:"token"`
}

type registerFrame struct {
	TrnM    string         `json:"trnm"`
	GrpNo   string         `json:"grp_no"`
	Refresh string         `json:"refresh"`
	Data    []registerSpec `json:"data"`
}

type registerSpec struct {
	Item []string `json:"item"`
	Type []string `json:"type"`
}

// ExecutionHandler receives executions parsed from the realtime feed.
type ExecutionHandler func(ctx context.Context, exec tradestore.NewExecution)

// Stream maintains the realtime websocket session and forwards parsed
// execution events to a handler. It reconnects with exponential backoff until
// the context is cancelled.
type Stream struct {
	client  *Client
	handler ExecutionHandler
	logger  *log.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewStream builds a realtime stream on top of an authenticated client.
func NewStream(client *Client, handler ExecutionHandler, logger *log.Logger) (*Stream, error) {
	if client == nil {
		return nil, fmt.Errorf("stream: nil client")
	}
	if strings.TrimSpace(client.socketURL) == "" {
		return nil, fmt.Errorf("stream: socket URL not configured")
	}
	if handler == nil {
		return nil, fmt.Errorf("stream: nil handler")
	}
	return &Stream{client: client, handler: handler, logger: logger}, nil
}

// Run blocks, maintaining the websocket session until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = streamMaxReconnectInterval

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := s.runOnce(ctx)
		if err != nil && errors.Is(err, context.Canceled) {
			return err
		}
		if err != nil && s.logger != nil {
			s.logger.Printf("realtime session ended: %v", err)
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = streamMaxReconnectInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	token, err := s.client.Token(ctx)
	if err != nil {
		return fmt.Errorf("realtime token: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, s.client.socketURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.client.socketURL, err)
	}
	conn.SetReadLimit(streamReadLimit)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := s.write(ctx, conn, loginFrame{TrnM: trnmLogin, Token: token}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	return s.readLoop(ctx, conn)
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	loggedIn := false
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		var env streamEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			if s.logger != nil {
				s.logger.Printf("realtime frame decode failed: %v", err)
			}
			continue
		}

		switch env.TrnM {
		case trnmPing:
			// The brokerage expects the PING frame echoed back verbatim.
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return fmt.Errorf("echo ping: %w", err)
			}
		case trnmLogin:
			if env.ReturnCode != 0 {
				s.client.Invalidate()
				return fmt.Errorf("realtime login rejected: code=%d msg=%s", env.ReturnCode, env.ReturnMsg)
			}
			loggedIn = true
			if err := s.register(ctx, conn); err != nil {
				return err
			}
		case trnmReal:
			if !loggedIn {
				continue
			}
			s.dispatch(ctx, env.Data)
		}
	}
}

func (s *Stream) register(ctx context.Context, conn *websocket.Conn) error {
	reg := registerFrame{
		TrnM:    trnmReg,
		GrpNo:   "1",
		Refresh: "1",
		Data: []registerSpec{{
			Item: []string{""},
			Type: []string{realTypeExecution},
		}},
	}
	if err := s.write(ctx, conn, reg); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("realtime execution feed registered")
	}
	return nil
}

func (s *Stream) dispatch(ctx context.Context, data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var frames []realFrame
	if err := json.Unmarshal(data, &frames); err != nil {
		if s.logger != nil {
			s.logger.Printf("realtime data decode failed: %v", err)
		}
		return
	}
	for _, frame := range frames {
		if frame.Type != realTypeExecution {
			continue
		}
		exec, ok := executionFromRealtime(frame.Values, s.client.loc)
		if !ok {
			continue
		}
		s.handler(ctx, exec)
	}
}

// executionFromRealtime converts an FID-keyed value map into an execution.
// Frames without a filled quantity (order acceptance, cancels) report false.
func executionFromRealtime(values map[string]string, loc *time.Location) (tradestore.NewExecution, bool) {
	qty := parseInt64(values[fidExecutedQty])
	if qty <= 0 {
		return tradestore.NewExecution{}, false
	}
	code := strings.TrimPrefix(strings.TrimSpace(values[fidStockCode]), "A")
	if code == "" {
		return tradestore.NewExecution{}, false
	}
	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	side := strings.TrimSpace(values[fidTradeKind])
	if side == "" {
		side = strings.TrimSpace(values[fidOrderStatus])
	}
	return tradestore.NewExecution{
		TradeDate:      day,
		OrderTime:      normalizeOrderTime(values[fidExecutedTime]),
		InstrumentCode: code,
		InstrumentName: strings.TrimSpace(values[fidStockName]),
		CreditClass:    strings.TrimSpace(values[fidCreditClass]),
		SideDescriptor: side,
		Quantity:       qty,
		Price:          parseDecimal(values[fidExecutedPrc]),
		SourceOrderNo:  strings.TrimSpace(values[fidOrderNo]),
	}, true
}

func (s *Stream) write(ctx context.Context, conn *websocket.Conn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
