package gambittest

import (
	"context"
	crand "crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/gambit/gdhke"
	"github.com/gordian-engine/gambit/gpubsub"
	"github.com/gordian-engine/gambit/gquic"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gline"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/require"
)

// modp2048 is the 2048-bit MODP group from RFC 3526, with generator 2.
var modp2048, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
		"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
		"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
		"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D"+
		"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F"+
		"83655D23DCA3AD961C62F356208552BB9ED529077096966D"+
		"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B"+
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9"+
		"DE2BCBF6955817183995497CEA956AE515D2261898FA0510"+
		"15728E5A8AACAA68FFFFFFFFFFFFFFFF",
	16,
)

// ServerConfig configures a [Server].
type ServerConfig struct {
	// Accepted credentials, by username.
	// Any other username or password is refused with NOSESSION.
	Users map[string]string

	// If set, the authentication endpoint reads credentials but never replies.
	SilentAuth bool

	// If set, the key-exchange endpoint aborts with "E"
	// after sending the modulus.
	RejectKeyExchange bool

	// If set, the modulus and generator are sent as two messages
	// instead of one.
	SeparateGroup bool

	// If set, the server does not reply to requests with states;
	// tests send states explicitly with [*Server.SendState].
	ManualStates bool

	// Reported in every automatic state.
	DebugMode bool
}

// Server is an in-process stand-in for the three game server endpoints,
// each on its own loopback QUIC listener.
//
// On the game endpoint, it adds a player for each join request,
// acknowledges every ack-required input and every debug command,
// forgets acknowledgements named in purges,
// and replies to each request with a new state unless ManualStates is set.
type Server struct {
	log *slog.Logger
	cfg ServerConfig

	CA *CA

	AuthAddr        string
	KeyExchangeAddr string
	GameAddr        string

	keyring *gwire.Keyring

	mu        sync.Mutex
	sessions  map[string]string // Secret to ID.
	nextID    int
	nextKey   int
	version   int64
	players   []gwire.PlayerRef
	inputAcks []gwire.InputAck
	cmdAcks   []gwire.CommandAck
	peers     []gamePeer
	reqTail   *gpubsub.Stream[gwire.OutboundRequest]

	// Every decoded request received on the game endpoint, in arrival order.
	RequestHead *gpubsub.Stream[gwire.OutboundRequest]

	wg sync.WaitGroup
}

type gamePeer struct {
	Conn  gquic.Conn
	KeyID string
}

// NewServer starts a Server on three loopback listeners.
// The server stops, and its goroutines finish,
// during t's cleanup or when ctx is canceled.
func NewServer(t *testing.T, ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	t.Helper()

	ca, err := GenerateCA()
	require.NoError(t, err)

	cert, err := ca.ServerCert()
	require.NoError(t, err)

	head := gpubsub.NewStream[gwire.OutboundRequest]()
	s := &Server{
		log: log,
		cfg: cfg,

		CA: ca,

		keyring: gwire.NewKeyring(),

		sessions: make(map[string]string),
		reqTail:  head,

		RequestHead: head,
	}

	ctx, cancel := context.WithCancel(ctx)

	var qls []*quic.Listener
	t.Cleanup(func() {
		cancel()
		for _, ql := range qls {
			_ = ql.Close()
		}
		s.wg.Wait()
	})

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	for _, ep := range []struct {
		addr   *string
		handle func(context.Context, gquic.Conn)
	}{
		{addr: &s.AuthAddr, handle: s.handleAuth},
		{addr: &s.KeyExchangeAddr, handle: s.handleKeyExchange},
		{addr: &s.GameAddr, handle: s.handleGame},
	} {
		uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := uc.Close(); err != nil {
				t.Logf("Error closing UDP listener: %v", err)
			}
		})

		qt := gquic.MakeTransport(uc)
		ql, err := gquic.StartListener(tlsConf, gquic.DefaultConfig(), qt)
		require.NoError(t, err)
		qls = append(qls, ql)

		*ep.addr = uc.LocalAddr().String()

		s.wg.Add(1)
		go s.accept(ctx, ql, ep.handle)
	}

	return s
}

// ClientDialer returns a dialer that trusts the server's certificate,
// bound to its own loopback UDP socket.
func (s *Server) ClientDialer(t *testing.T) gquic.Dialer {
	t.Helper()

	uc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := uc.Close(); err != nil {
			t.Logf("Error closing client UDP socket: %v", err)
		}
	})

	return gquic.Dialer{
		TLSConf: s.CA.ClientTLSConfig(),

		QUICTransport: gquic.MakeTransport(uc),
		QUICConfig:    gquic.DefaultConfig(),
	}
}

func (s *Server) accept(ctx context.Context, ql *quic.Listener, handle func(context.Context, gquic.Conn)) {
	defer s.wg.Done()

	for {
		qc, err := ql.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("Accept failed", "err", err)
			}
			return
		}

		conn := gquic.WrapConn(qc)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle(ctx, conn)
			_ = conn.CloseWithError(gquic.NoError, "")
		}()
	}
}

func (s *Server) handleAuth(ctx context.Context, conn gquic.Conn) {
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	lc := gline.NewConn(st, time.Second)
	defer lc.Close()

	_ = lc.Run(ctx, func(msg string) bool {
		user, pass, _ := strings.Cut(msg, " ")

		if s.cfg.SilentAuth {
			return true
		}

		want, ok := s.cfg.Users[user]
		if !ok || want != pass {
			_ = lc.Send("NOSESSION")
			return true
		}

		secret, id := s.newSession()
		_ = lc.Send("SESSION " + secret + " " + id)
		return true
	})
}

func (s *Server) newSession() (secret, id string) {
	var b [16]byte
	_, _ = crand.Read(b[:])
	secret = hex.EncodeToString(b[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id = fmt.Sprintf("player-%d", s.nextID)
	s.sessions[secret] = id
	return secret, id
}

func (s *Server) handleKeyExchange(ctx context.Context, conn gquic.Conn) {
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}
	lc := gline.NewConn(st, time.Second)
	defer lc.Close()

	g := big.NewInt(2)
	priv, err := crand.Int(crand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		panic(fmt.Errorf("failed to generate private exponent: %w", err))
	}

	// Provoke, then the client's public value.
	// The handler keeps reading until the client hangs up,
	// since closing the connection first could drop unsent replies.
	step := 0
	_ = lc.Run(ctx, func(msg string) bool {
		step++
		switch step {
		case 1:
			if s.cfg.RejectKeyExchange {
				_ = lc.Send(modp2048.String())
				_ = lc.Send("E")
			} else if s.cfg.SeparateGroup {
				_ = lc.Send(modp2048.String())
				_ = lc.Send(g.String())
			} else {
				_ = lc.Send(modp2048.String() + " " + g.String())
			}
			return true

		case 2:
			clientPub, ok := new(big.Int).SetString(msg, 10)
			if !ok {
				_ = lc.Send("E")
				return true
			}

			_ = lc.Send(new(big.Int).Exp(g, priv, modp2048).String())

			key := gwire.SymmetricKey{
				ID:    s.newKeyID(),
				Bytes: gdhke.DeriveKey(new(big.Int).Exp(clientPub, priv, modp2048)),
			}
			if err := s.keyring.Add(key); err != nil {
				panic(fmt.Errorf("BUG: failed to add key: %w", err))
			}
			_ = lc.Send(key.ID)
			return true

		default:
			return true
		}
	})
}

func (s *Server) newKeyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextKey++
	return strconv.Itoa(1000 + s.nextKey)
}

func (s *Server) handleGame(ctx context.Context, conn gquic.Conn) {
	for {
		d, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}

		if string(d) == gwire.ConnectMarker {
			continue
		}

		payload, err := s.keyring.Open(d)
		if err != nil {
			s.log.Info("Server dropping datagram", "err", err)
			continue
		}
		keyID := string(d[1 : 1+int(d[0])])

		var req gwire.OutboundRequest
		if err := req.UnmarshalBinary(payload); err != nil {
			s.log.Info("Server dropping request", "err", err)
			continue
		}

		st, ok := s.apply(conn, keyID, req)
		if !ok || s.cfg.ManualStates {
			continue
		}
		if err := s.send(conn, keyID, st); err != nil {
			s.log.Info("Server failed to send state", "err", err)
		}
	}
}

// apply updates the server state from req and returns the new state.
func (s *Server) apply(conn gquic.Conn, keyID string, req gwire.OutboundRequest) (gwire.AuthoritativeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionID, ok := s.sessions[req.SessionToken]
	if !ok {
		return gwire.AuthoritativeState{}, false
	}

	if !slices.ContainsFunc(s.peers, func(p gamePeer) bool { return p.Conn == conn }) {
		s.peers = append(s.peers, gamePeer{Conn: conn, KeyID: keyID})
	}

	s.reqTail.Publish(req)
	s.reqTail = s.reqTail.Next

	for _, in := range req.Inputs {
		if !in.Present {
			continue
		}
		if in.Code == gwire.JoinGameCode {
			if !s.hasPlayerLocked(sessionID) {
				s.players = append(s.players, gwire.PlayerRef{SessionID: sessionID})
			}
			continue
		}
		if in.AckRequired && in.HasID && !s.hasInputAckLocked(sessionID, in.ID) {
			s.inputAcks = append(s.inputAcks, gwire.InputAck{SessionID: sessionID, InputID: in.ID})
		}
	}

	for _, p := range req.Purges {
		if !p.Present {
			continue
		}
		s.inputAcks = slices.DeleteFunc(s.inputAcks, func(a gwire.InputAck) bool {
			return a.SessionID == sessionID && a.InputID == p.ID
		})
	}

	if s.cfg.DebugMode {
		for _, c := range req.Commands {
			if !slices.ContainsFunc(s.cmdAcks, func(a gwire.CommandAck) bool {
				return a.SessionID == sessionID && a.CommandNumber == c.Number
			}) {
				s.cmdAcks = append(s.cmdAcks, gwire.CommandAck{SessionID: sessionID, CommandNumber: c.Number})
			}
		}
		for _, c := range req.CommandsToForget {
			s.cmdAcks = slices.DeleteFunc(s.cmdAcks, func(a gwire.CommandAck) bool {
				return a.SessionID == sessionID && a.CommandNumber == c.Number
			})
		}
	}

	s.version++
	return gwire.AuthoritativeState{
		Version:     s.version,
		DebugMode:   s.cfg.DebugMode,
		Players:     slices.Clone(s.players),
		InputAcks:   slices.Clone(s.inputAcks),
		CommandAcks: slices.Clone(s.cmdAcks),
	}, true
}

func (s *Server) hasPlayerLocked(sessionID string) bool {
	return slices.ContainsFunc(s.players, func(p gwire.PlayerRef) bool {
		return p.SessionID == sessionID
	})
}

func (s *Server) hasInputAckLocked(sessionID string, id uint64) bool {
	return slices.ContainsFunc(s.inputAcks, func(a gwire.InputAck) bool {
		return a.SessionID == sessionID && a.InputID == id
	})
}

func (s *Server) send(conn gquic.Conn, keyID string, st gwire.AuthoritativeState) error {
	payload, err := st.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	d, err := s.keyring.Seal(keyID, payload)
	if err != nil {
		return fmt.Errorf("failed to seal state: %w", err)
	}
	return conn.SendDatagram(d)
}

// SendState sends st to every game connection that has sent a request.
func (s *Server) SendState(st gwire.AuthoritativeState) error {
	s.mu.Lock()
	peers := slices.Clone(s.peers)
	s.mu.Unlock()

	if len(peers) == 0 {
		return errors.New("no game connections have sent a request yet")
	}

	var err error
	for _, p := range peers {
		err = errors.Join(err, s.send(p.Conn, p.KeyID, st))
	}
	return err
}

// SessionID returns the session ID granted for the given secret.
func (s *Server) SessionID(secret string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[secret]
	return id, ok
}
