// Command call-agent is the headless device-side call endpoint. It keeps
// the global incoming-call listener running for one identity, answers or
// rejects calls from stdin, and optionally records accepted calls.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"telecare-backend/internal/call"
	"telecare-backend/internal/calllog"
	"telecare-backend/internal/config"
	intDatabase "telecare-backend/internal/database"
	"telecare-backend/internal/domain"
	"telecare-backend/internal/listener"
	"telecare-backend/internal/presence"
	"telecare-backend/internal/recorder"
	"telecare-backend/internal/repository/cockroach"
	redisRepo "telecare-backend/internal/repository/redis"
	"telecare-backend/internal/signaling"
	"telecare-backend/pkg/constants"
	pkgDatabase "telecare-backend/pkg/database"
	"telecare-backend/pkg/env"
	"telecare-backend/pkg/logger"
)

type agent struct {
	cfg         *config.Config
	selfID      uuid.UUID
	selfName    string
	transport   *signaling.Transport
	listener    *listener.Listener
	tracker     *presence.Tracker
	mailbox     *call.Mailbox
	recorder    *recorder.Recorder
	peers       call.PeerFactory
	media       call.Acquirer
	store       call.RecordStore
	mediaPolicy call.MediaPolicy
	log         *calllog.Log

	mu      sync.Mutex
	session *call.Session
}

func main() {
	cfg := config.Load("call-agent")

	if err := logger.Init(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  "stdout",
		Service: cfg.Server.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	selfID, err := uuid.Parse(env.GetString("AGENT_USER_ID", ""))
	if err != nil {
		logger.Fatal("AGENT_USER_ID must be a valid UUID", zap.Error(err))
	}
	selfName := env.GetString("AGENT_DISPLAY_NAME", "Agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	diag := calllog.New(constants.CallLogCapacity).WithTee(logger.With())

	// Backing stores. The memory backend runs without any of them, which
	// keeps local dry-runs dependency-free.
	var bus signaling.Bus
	var convSource listener.ConversationSource
	var recordStore call.RecordStore
	var feed listener.RingingFeed
	var members presence.MembershipStore

	switch cfg.Signaling.Backend {
	case "memory":
		bus = signaling.NewMemoryBus()
		convSource = staticConversations(selfID)
		feed = emptyFeed{}
		logger.Warn("dry-run mode: in-process bus, no persistence")
	default:
		db, err := pkgDatabase.NewCockroachDB(ctx, &pkgDatabase.CockroachConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
		}
		defer db.Close()

		callRepo := cockroach.NewCallRepository(db.Pool)
		convSource = cockroach.NewConversationRepository(db.Pool)
		recordStore = callRepo
		feed = callRepo

		redisDB, err := intDatabase.NewRedisDB(&intDatabase.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  5 * time.Second,
		})
		if err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer redisDB.Close()
		go redisDB.StartHealthCheck(ctx, 10*time.Second)
		members = redisRepo.NewPresenceRepository(redisDB)

		if cfg.Signaling.Backend == "nats" {
			nc, err := nats.Connect(cfg.NATS.URL,
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2*time.Second))
			if err != nil {
				logger.Fatal("failed to connect to NATS", zap.Error(err))
			}
			defer nc.Close()
			bus = signaling.NewNATSBus(nc)
		} else {
			bus = signaling.NewRedisBus(redisDB)
		}
	}

	naming := signaling.DefaultNaming()
	naming.ExtraNotifyPrefixes = cfg.Signaling.ExtraNotifyPrefixes

	transport := signaling.NewTransport(bus, naming, selfID, diag)
	transport.SetRetryPolicy(cfg.Signaling.SubscribeMaxAttempts,
		cfg.Signaling.SubscribeBaseDelay, cfg.Signaling.SubscribeMaxDelay)

	var tracker *presence.Tracker
	if members != nil {
		tracker = presence.NewTracker(bus, naming, members, selfID, diag)
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		store, err := recorder.NewMinioStore(cfg.Recorder.Endpoint,
			cfg.Recorder.AccessKey, cfg.Recorder.SecretKey,
			cfg.Recorder.Bucket, cfg.Recorder.UseSSL)
		if err != nil {
			logger.Fatal("failed to initialize recording store", zap.Error(err))
		}
		rec = recorder.New(store, diag)
	}

	mediaPolicy := call.MediaPolicyLazy
	if cfg.Call.MediaPolicy == "eager" {
		mediaPolicy = call.MediaPolicyEager
	}

	a := &agent{
		cfg:         cfg,
		selfID:      selfID,
		selfName:    selfName,
		transport:   transport,
		tracker:     tracker,
		mailbox:     call.NewMailbox(),
		recorder:    rec,
		peers:       call.NewPionFactory(cfg.Call.ICEServers),
		media:       call.NewSampleAcquirer(),
		store:       recordStore,
		mediaPolicy: mediaPolicy,
		log:         diag,
	}

	l := listener.New(listener.Config{
		Transport:     transport,
		Conversations: convSource,
		Feed:          feed,
		Mailbox:       a.mailbox,
		Log:           diag,
		SelfID:        selfID,
		Tie:           listener.FirstWins,
		RejectGrace:   cfg.Call.RejectGrace,
		OnIncoming: func(ic *domain.IncomingCall) {
			fmt.Printf("incoming %s call from %s (conversation %s) [a]ccept / [r]eject\n",
				ic.CallType, ic.CallerName, ic.ConversationID)
		},
		OnCleared: func(conversationID uuid.UUID) {
			fmt.Printf("call cleared (conversation %s)\n", conversationID)
		},
		Navigate: a.navigate,
	})
	l.Watcher().SetCadence(cfg.Listener.PollInterval, cfg.Listener.Lookback)
	a.listener = l

	if err := l.Start(ctx); err != nil {
		logger.Fatal("listener failed to start", zap.Error(err))
	}
	logger.Info("call agent running",
		zap.String("user_id", selfID.String()),
		zap.String("backend", cfg.Signaling.Backend))

	go a.repl(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	a.hangup(context.Background())
	l.Close()
	if tracker != nil {
		tracker.Close(context.Background())
	}
}

// staticSource serves a fixed conversation list so dry-runs need no
// database. Conversations come from AGENT_CONVERSATIONS, comma-separated.
type staticSource struct {
	convs []*domain.Conversation
}

func staticConversations(selfID uuid.UUID) *staticSource {
	s := &staticSource{}
	for _, raw := range env.GetStringSlice("AGENT_CONVERSATIONS", nil) {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		s.convs = append(s.convs, &domain.Conversation{
			ConversationID: id,
			PatientID:      selfID,
			DoctorUserID:   uuid.New(),
		})
	}
	return s
}

func (s *staticSource) ListByParticipant(_ context.Context, _ uuid.UUID) ([]*domain.Conversation, error) {
	return s.convs, nil
}

func (s *staticSource) GetProfile(_ context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return &domain.Profile{UserID: userID, DisplayName: "Peer"}, nil
}

// emptyFeed never reports ringing records.
type emptyFeed struct{}

func (emptyFeed) ListRingingSince(_ context.Context, _ time.Time) ([]*domain.CallRecord, error) {
	return nil, nil
}

// navigate receives an accepted call from the listener and drives the
// session for it.
func (a *agent) navigate(conversationID uuid.UUID, autoAccept bool) {
	handoff, ok := a.mailbox.Take()
	if !ok {
		return
	}

	ctx := context.Background()
	s := a.newSession(conversationID)

	if err := s.ReceiveIncoming(ctx, handoff); err != nil {
		logger.Error("failed to receive incoming call", zap.Error(err))
		return
	}
	if a.tracker != nil {
		if err := a.tracker.Join(ctx, conversationID); err != nil {
			logger.Warn("presence join failed", zap.Error(err))
		}
	}
	if autoAccept {
		if err := s.Accept(ctx); err != nil {
			logger.Error("failed to accept call", zap.Error(err))
		}
	}
}

func (a *agent) newSession(conversationID uuid.UUID) *call.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := call.NewSession(call.Config{
		Transport:    a.transport,
		Peers:        a.peers,
		Media:        a.media,
		Store:        a.store,
		Log:          a.log,
		SelfID:       a.selfID,
		SelfName:     a.selfName,
		SetupTimeout: a.cfg.Call.SetupTimeout,
		MediaPolicy:  a.mediaPolicy,
		OnStateChange: func(state call.State, reason call.EndReason) {
			fmt.Printf("call state: %s", state)
			if reason != "" {
				fmt.Printf(" (%s)", reason)
			}
			fmt.Println()
			if state == call.StateEnded {
				a.clearSession()
				if a.tracker != nil {
					a.tracker.Leave(context.Background(), conversationID)
				}
			}
		},
		StopRecording: func() {
			if a.recorder != nil {
				a.recorder.Stop(context.Background())
			}
		},
	})
	a.session = s
	return s
}

func (a *agent) clearSession() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
}

func (a *agent) current() *call.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *agent) hangup(ctx context.Context) {
	if s := a.current(); s != nil {
		s.End(ctx)
	}
}

// repl reads one-letter commands from stdin: a(ccept), r(eject), h(angup),
// c <conversation-id> to place an outgoing call, q(uit).
func (a *agent) repl(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "a":
			if err := a.listener.Accept(ctx); err != nil {
				fmt.Println("accept:", err)
			}
		case "r":
			a.listener.Reject(ctx)
		case "h":
			a.hangup(ctx)
		case "c":
			if len(fields) < 2 {
				fmt.Println("usage: c <conversation-id> [audio|video]")
				continue
			}
			conversationID, err := uuid.Parse(fields[1])
			if err != nil {
				fmt.Println("invalid conversation id")
				continue
			}
			callType := constants.CallTypeAudio
			if len(fields) > 2 && fields[2] == constants.CallTypeVideo {
				callType = constants.CallTypeVideo
			}
			s := a.newSession(conversationID)
			if err := s.Initiate(ctx, conversationID, callType); err != nil {
				fmt.Println("initiate:", err)
				continue
			}
			if a.tracker != nil {
				if err := a.tracker.Join(ctx, conversationID); err != nil {
					logger.Warn("presence join failed", zap.Error(err))
				}
			}
		case "q":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		}
	}
}
