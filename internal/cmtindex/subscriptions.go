package cmtindex

import (
	"context"
	"slices"
	"strings"

	"github.com/roach88/unitao/internal/schema"
	"github.com/roach88/unitao/internal/store"
)

// Refresh re-derives subscriptions from every known schema and persists
// them per target type. Subscriptions seen for the first time get a full
// backfill before they are persisted, so a failed backfill is redone by
// the next Refresh. Only subscriptions with a local source or target are
// kept; the rest belong to other stores' engines.
//
// When the remote catalog cannot be read, subscriptions declared by remote
// targets are kept as they were.
func (e *Engine) Refresh(ctx context.Context) error {
	subs, err := e.derive(ctx)
	if err != nil {
		e.logger.Warn("remote subscriptions unavailable, keeping previous ones", "error", err)
	}
	return e.install(ctx, subs)
}

// refreshIfChanged installs the derived subscriptions when they differ
// from the installed set.
func (e *Engine) refreshIfChanged(ctx context.Context) error {
	subs, err := e.derive(ctx)
	if err != nil {
		e.logger.Debug("remote subscriptions unavailable", "error", err)
	}
	if fingerprint(subs) == e.fingerprint {
		return nil
	}
	return e.install(ctx, subs)
}

// derive lists the subscriptions this store takes part in. On a remote
// failure the previously installed remote-target subscriptions stand in
// for the remote catalog, and the error is returned alongside.
func (e *Engine) derive(ctx context.Context) ([]schema.Subscription, error) {
	all, err := e.graph.Subscriptions(ctx)
	if err != nil {
		for _, t := range sortedKeys(e.byTarget) {
			if !e.graph.IsLocal(t) {
				all = append(all, e.byTarget[t]...)
			}
		}
	}
	var subs []schema.Subscription
	for _, sub := range all {
		if e.graph.IsLocal(sub.Source) || e.graph.IsLocal(sub.Target) {
			subs = append(subs, sub)
		}
	}
	return subs, err
}

func (e *Engine) install(ctx context.Context, subs []schema.Subscription) error {
	byTarget := map[string][]schema.Subscription{}
	bySource := map[string][]schema.Subscription{}
	for _, sub := range subs {
		byTarget[sub.Target] = append(byTarget[sub.Target], sub)
		bySource[sub.Source] = append(bySource[sub.Source], sub)
	}

	prior, err := e.store.Subscriptions(ctx, "")
	if err != nil {
		return err
	}
	known := map[subscriptionKey]bool{}
	targets := map[string]bool{}
	for _, row := range prior {
		known[keyOf(row)] = true
		targets[row.TargetType] = true
	}

	e.byTarget = byTarget
	e.bySource = bySource

	for _, t := range sortedKeys(byTarget) {
		targets[t] = true
		for _, sub := range byTarget[t] {
			if known[keyOf(subscriptionRow(sub))] {
				continue
			}
			e.logger.Info("subscription added", "target", sub.Target, "attr", sub.Attr, "source", sub.Source)
			if err := e.backfill(ctx, sub, ""); err != nil {
				return err
			}
		}
	}

	for _, t := range sortedKeys(targets) {
		rows := make([]store.SubscriptionRow, len(byTarget[t]))
		for i, sub := range byTarget[t] {
			rows[i] = subscriptionRow(sub)
		}
		if _, err := e.store.ReplaceSubscriptions(ctx, t, rows); err != nil {
			return err
		}
	}
	e.fingerprint = fingerprint(subs)
	e.logger.Debug("subscriptions refreshed", "targets", len(byTarget))
	return nil
}

// fingerprint identifies a subscription set independent of order.
func fingerprint(subs []schema.Subscription) string {
	lines := make([]string, len(subs))
	for i, sub := range subs {
		lines[i] = strings.Join([]string{sub.Target, sub.Attr, sub.Template.String(), sub.Source, sub.Version}, "|")
	}
	slices.Sort(lines)
	return strings.Join(lines, "\n")
}

type subscriptionKey struct {
	target, attr, template string
}

func keyOf(r store.SubscriptionRow) subscriptionKey {
	return subscriptionKey{r.TargetType, r.Attr, r.Template}
}

func subscriptionRow(sub schema.Subscription) store.SubscriptionRow {
	return store.SubscriptionRow{
		TargetType: sub.Target,
		Attr:       sub.Attr,
		Template:   sub.Template.String(),
		SourceType: sub.Source,
		Version:    sub.Version,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
