package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/eternovinculo/visitguard"
	redisbroadcast "github.com/eternovinculo/visitguard/broadcast/redis"
	"github.com/eternovinculo/visitguard/codec"
	"github.com/eternovinculo/visitguard/mirror"
	"github.com/eternovinculo/visitguard/store/sqlite"
)

const maxRecordSize = 1 << 20

// session is one "browser tab": a guard over the configured mirror.
type session struct {
	guard  visitguard.Guard
	record *mirror.RecordMirror // sqlite mirror only
	logger visitguard.Logger
	closes []func(context.Context) error
}

func (o *options) open(ctx context.Context) (*session, error) {
	s := &session{logger: o.logger}
	var (
		m   mirror.Mirror
		rdb *goredis.Client
	)
	redisClient := func() *goredis.Client {
		if rdb == nil {
			rdb = goredis.NewClient(&goredis.Options{Addr: o.redisAddr})
			s.closes = append(s.closes, func(context.Context) error { return rdb.Close() })
		}
		return rdb
	}

	switch o.mirror {
	case "sqlite":
		st, err := sqlite.Open(o.statePath)
		if err != nil {
			return nil, err
		}
		c, err := recordCodec(o.codec)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		rec, err := mirror.NewRecord(mirror.RecordOptions{
			Store:      st,
			Codec:      c,
			CloseStore: true,
			OnSelfHeal: func(reason string, err error) {
				o.logger.Warn("state record was unreadable and has been reset", visitguard.Fields{"reason": reason, "err": err, "state": st.Path()})
			},
		})
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		s.record = rec
		m = rec
	case "redis":
		m = mirror.NewRedis(redisClient(), o.namespace)
	default:
		return nil, fmt.Errorf("unknown --mirror %q", o.mirror)
	}

	gopts := visitguard.GuardOptions{
		Mirror:      m,
		CloseMirror: true,
		Origin:      "visitctl-" + uuid.NewString(),
		Logger:      s.logger,
	}
	switch o.crossTab {
	case "off":
	case "notify", "lock":
		ch, err := redisbroadcast.New(ctx, redisbroadcast.Config{
			Client:  redisClient(),
			Channel: "vg:" + o.namespace + ":events",
			OnError: func(err error) { o.logger.Warn("cross-tab channel", visitguard.Fields{"err": err}) },
		})
		if err != nil {
			s.close(ctx)
			_ = m.Close(ctx)
			return nil, err
		}
		s.closes = append(s.closes, func(context.Context) error { return ch.Close() })
		gopts.Channel = ch
		gopts.CrossTab = visitguard.CrossTabNotify
		if o.crossTab == "lock" {
			gopts.CrossTab = visitguard.CrossTabLock
		}
	default:
		s.close(ctx)
		_ = m.Close(ctx)
		return nil, fmt.Errorf("unknown --cross-tab %q", o.crossTab)
	}

	g, err := visitguard.NewGuard(gopts)
	if err != nil {
		s.close(ctx)
		_ = m.Close(ctx)
		return nil, err
	}
	s.guard = g
	return s, nil
}

// close releases the guard (and its mirror) before the shared clients.
func (s *session) close(ctx context.Context) error {
	var errs []error
	if s.guard != nil {
		errs = append(errs, s.guard.Close(ctx))
	}
	for i := len(s.closes) - 1; i >= 0; i-- {
		errs = append(errs, s.closes[i](ctx))
	}
	return errors.Join(errs...)
}

func recordCodec(name string) (codec.Codec[mirror.Record], error) {
	var inner codec.Codec[mirror.Record]
	switch name {
	case "json":
		inner = codec.JSON[mirror.Record]{}
	case "msgpack":
		inner = codec.Msgpack[mirror.Record]{}
	case "cbor":
		c, err := codec.NewCBOR[mirror.Record](true)
		if err != nil {
			return nil, err
		}
		inner = c
	case "proto":
		inner = mirror.NewProtoCodec()
	default:
		return nil, fmt.Errorf("unknown --codec %q", name)
	}
	return codec.Limit[mirror.Record]{Inner: inner, MaxDecode: maxRecordSize}, nil
}
