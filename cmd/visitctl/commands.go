package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/client"
)

// outcome records what a Visit did, for reporting.
type outcome struct {
	visitguard.NopHooks
	started     bool
	rateLimited bool
}

func (o *outcome) IncrementStarted(visitguard.Key)     { o.started = true }
func (o *outcome) IncrementRateLimited(visitguard.Key) { o.rateLimited = true }

func parseKey(args []string) (visitguard.Key, error) {
	kind, err := visitguard.ParseKind(args[0])
	if err != nil {
		return visitguard.Key{}, err
	}
	if args[1] == "" {
		return visitguard.Key{}, errors.New("slug must not be empty")
	}
	return visitguard.Key{Kind: kind, ID: args[1]}, nil
}

// withSession opens the state, runs fn, and closes the state again.
func (o *options) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

func newVisitCmd(o *options) *cobra.Command {
	var initial int64
	cmd := &cobra.Command{
		Use:   "visit <kind> <slug>",
		Short: "Count a visit unless this client already did",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			if o.baseURL == "" {
				return errors.New("--base-url (or VISITCTL_BASE_URL) is required")
			}
			cl, err := client.New(client.Config{BaseURL: o.baseURL})
			if err != nil {
				return err
			}

			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				out := &outcome{}
				v := visitguard.NewVisit(s.guard, cl, key,
					visitguard.WithInitialCount(initial),
					visitguard.WithHooks(out),
					visitguard.WithLogger(s.logger),
				)
				v.Mount(ctx)

				st := v.State()
				w := cmd.OutOrStdout()
				switch {
				case st.Err != nil:
					s.logger.Debug("visit failed", visitguard.Fields{"key": key.String(), "err": errors.Unwrap(st.Err)})
					return st.Err
				case out.rateLimited:
					fmt.Fprintf(w, "%s: already counted recently\n", key)
				case out.started:
					fmt.Fprintf(w, "%s: counted, %d visits\n", key, st.Count)
				default:
					fmt.Fprintf(w, "%s: already counted by this client\n", key)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&initial, "count", 0, "count to report when the visit is not counted")
	return cmd
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <kind> <slug>",
		Short: "Show whether this client already counted a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				state := visitguard.Idle
				if !s.guard.CanIncrement(ctx, key) {
					state = s.guard.State(key)
					if state == visitguard.Idle {
						// another client holds the cross-tab lock
						state = visitguard.InFlight
					}
				}
				line := key.String() + " " + state.String()
				if s.record != nil && state == visitguard.Completed {
					rec, err := s.record.Snapshot(ctx)
					if err != nil {
						return err
					}
					if ms, ok := rec.Kinds[string(key.Kind)][key.ID]; ok {
						line += " " + time.UnixMilli(ms).Format(time.RFC3339)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
				return nil
			})
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every profile this client counted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				if s.record == nil {
					return errors.New("list needs --mirror sqlite")
				}
				rec, err := s.record.Snapshot(ctx)
				if err != nil {
					return err
				}
				var lines []string
				for kind, ids := range rec.Kinds {
					for id, ms := range ids {
						lines = append(lines, kind+"/"+id+" "+time.UnixMilli(ms).Format(time.RFC3339))
					}
				}
				sort.Strings(lines)
				w := cmd.OutOrStdout()
				for _, l := range lines {
					fmt.Fprintln(w, l)
				}
				fmt.Fprintln(w, strconv.Itoa(rec.Len())+" counted")
				return nil
			})
		},
	}
}

func newResetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <kind> <slug>",
		Short: "Forget that this client counted a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				s.guard.Reset(ctx, key)
				fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", key)
				return nil
			})
		},
	}
}

func newResetAllCmd(o *options) *cobra.Command {
	var kindName string
	cmd := &cobra.Command{
		Use:   "reset-all",
		Short: "Forget every counted profile, or every profile of one kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var kind visitguard.Kind
			if kindName != "" {
				k, err := visitguard.ParseKind(kindName)
				if err != nil {
					return err
				}
				kind = k
			}
			return o.withSession(cmd, func(ctx context.Context, s *session) error {
				if kind != "" {
					s.guard.ResetKind(ctx, kind)
					fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", kind)
					return nil
				}
				s.guard.ResetAll(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "all reset")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kindName, "kind", "", "only reset this kind")
	return cmd
}
