package pbjx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/pbjx/pbj"
)

func TestTrigger_KeyOrder(t *testing.T) {
	p, _ := newTestPbjx(t)
	var keys []string
	record := func(key string) LifecycleListener {
		return func(ctx context.Context, _ *Pbjx, e LifecycleEvent) error {
			keys = append(keys, key)
			return nil
		}
	}
	for _, key := range []string{
		"acme:blog:command:publish-article.validate",
		"acme:blog:command:publish-article:v1.validate",
		MixinCommand + ".validate",
		"*.validate",
		"*.bind",
	} {
		p.On(key, record(key))
	}
	p.On("*.validate", record("*.validate#2"))

	cmd := pbj.New(testPublishArticle)
	_, err := p.Trigger(context.Background(), cmd, ".validate.", nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"*.validate",
		"*.validate#2",
		MixinCommand + ".validate",
		"acme:blog:command:publish-article:v1.validate",
		"acme:blog:command:publish-article.validate",
	}, keys)
}

func TestTrigger_EmptySuffix(t *testing.T) {
	p, _ := newTestPbjx(t)
	for _, suffix := range []string{"", ".."} {
		_, err := p.Trigger(context.Background(), node("a"), suffix, nil, true)
		assert.ErrorIs(t, err, ErrInvalidPhase)
	}
}

func TestTrigger_ChildrenFirstSkippingFrozen(t *testing.T) {
	p, _ := newTestPbjx(t)
	type visit struct {
		id    string
		depth int
	}
	var visits []visit
	p.On("acme:test:node:node.enrich", func(_ context.Context, _ *Pbjx, e LifecycleEvent) error {
		visits = append(visits, visit{e.Message().ID(), e.Depth()})
		return nil
	})

	frozen := node("frozen").Set("child", node("under-frozen")).Freeze()
	root := node("root").
		Set("child", node("a").Set("child", node("a1"))).
		Add("children", node("b"), frozen, node("c"))

	ev, err := p.Trigger(context.Background(), root, PhaseEnrich, nil, true)
	require.NoError(t, err)
	assert.Same(t, root, ev.Message())

	assert.Equal(t, []visit{
		{"a1", 2},
		{"a", 1},
		{"b", 1},
		{"c", 1},
		{"root", 0},
	}, visits)
}

func TestTrigger_NonRecursive(t *testing.T) {
	p, _ := newTestPbjx(t)
	var ids []string
	p.On("*.bind", func(_ context.Context, _ *Pbjx, e LifecycleEvent) error {
		ids = append(ids, e.Message().ID())
		return nil
	})
	root := node("root").Set("child", node("a"))
	_, err := p.Trigger(context.Background(), root, PhaseBind, nil, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, ids)
}

func TestTrigger_TooMuchRecursion(t *testing.T) {
	p, _ := newTestPbjx(t, func(b *Builder) { b.WithMaxRecursion(3) })
	assert.Equal(t, 3, p.MaxRecursion())

	called := 0
	p.On("*.bind", func(context.Context, *Pbjx, LifecycleEvent) error {
		called++
		return nil
	})

	// depth already past the bound: no listener may run.
	var ev LifecycleEvent = NewMessageEvent(node("r"))
	for i := 0; i < 4; i++ {
		ev = childEvent(node("c"), ev)
	}
	_, err := p.Trigger(context.Background(), ev.Message(), PhaseBind, ev, true)
	var tmr *TooMuchRecursionError
	require.ErrorAs(t, err, &tmr)
	assert.Equal(t, 4, tmr.Depth)
	assert.Equal(t, 0, called)

	// a nested graph deeper than the bound fails as well.
	root := node("0")
	cur := root
	for i := 1; i <= 5; i++ {
		next := node("n")
		cur.Set("child", next)
		cur = next
	}
	_, err = p.Trigger(context.Background(), root, PhaseBind, nil, true)
	require.ErrorAs(t, err, &tmr)
}

func TestClampMaxRecursion(t *testing.T) {
	assert.Equal(t, 10, clampMaxRecursion(0))
	assert.Equal(t, 2, clampMaxRecursion(1))
	assert.Equal(t, 10, clampMaxRecursion(50))
	assert.Equal(t, 7, clampMaxRecursion(7))
}

func TestTrigger_ListenerErrorStops(t *testing.T) {
	p, _ := newTestPbjx(t)
	boom := errors.New("boom")
	later := false
	p.On("*.validate", func(context.Context, *Pbjx, LifecycleEvent) error { return boom })
	p.On(MixinCommand+".validate", func(context.Context, *Pbjx, LifecycleEvent) error {
		later = true
		return nil
	})
	_, err := p.Trigger(context.Background(), pbj.New(testPublishArticle), PhaseValidate, nil, true)
	assert.ErrorIs(t, err, boom)
	assert.False(t, later)
}

func TestTrigger_EventMustWrapMessage(t *testing.T) {
	p, _ := newTestPbjx(t)
	_, err := p.Trigger(context.Background(), node("a"), PhaseBind, NewMessageEvent(node("b")), false)
	assert.ErrorIs(t, err, ErrEventMessageMismatch)
}

func TestTrigger_ResponseEventsDoNotRecurse(t *testing.T) {
	p, _ := newTestPbjx(t)
	var seen []string
	p.On("*.bind", func(_ context.Context, _ *Pbjx, e LifecycleEvent) error {
		seen = append(seen, e.Message().GetString("id"))
		return nil
	})

	root := node("root").Set("child", node("child"))
	events := []LifecycleEvent{
		NewGetResponseEvent(root),
		NewResponseCreatedEvent(node("req"), root),
	}
	for _, ev := range events {
		assert.False(t, ev.SupportsRecursion())
		seen = nil
		_, err := p.Trigger(context.Background(), root, PhaseBind, ev, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"root"}, seen)
	}
	assert.True(t, NewMessageEvent(root).SupportsRecursion())
}

func TestTriggerLifecycle(t *testing.T) {
	p, _ := newTestPbjx(t)
	var phases []string
	var events []LifecycleEvent
	for _, phase := range []string{PhaseEnrich, PhaseBind, PhaseValidate} {
		p.On(MixinCommand+"."+phase, func(_ context.Context, _ *Pbjx, e LifecycleEvent) error {
			phases = append(phases, phase)
			events = append(events, e)
			return nil
		})
	}

	cmd := pbj.New(testPublishArticle)
	require.NoError(t, p.TriggerLifecycle(context.Background(), cmd, true))
	assert.Equal(t, []string{PhaseBind, PhaseValidate, PhaseEnrich}, phases)
	require.Len(t, events, 3)
	assert.Same(t, events[0], events[1])
	assert.Same(t, events[1], events[2])

	phases = nil
	require.NoError(t, p.TriggerLifecycle(context.Background(), cmd.Freeze(), true))
	assert.Empty(t, phases)
}

func TestCopyContext(t *testing.T) {
	correlator := pbj.MessageRef{Curie: "acme:blog:request:x", ID: "r1"}
	from := pbj.New(testArticlePublished).
		Set(FieldEventID, "e1").
		Set(FieldCtxTenantID, "tenant-a").
		Set(FieldCtxCorrelatorRef, correlator).
		Set(FieldCtxIP, "10.0.0.1").
		Set(FieldCtxApp, map[string]any{"vendor": "acme"})

	to := pbj.New(EventExecutionFailedSchema).Set(FieldCtxIP, "127.0.0.1")
	CopyContext(from, to)

	assert.Equal(t, "tenant-a", to.GetString(FieldCtxTenantID))
	assert.Equal(t, correlator, to.GetRef(FieldCtxCorrelatorRef))
	assert.Equal(t, "127.0.0.1", to.GetString(FieldCtxIP), "explicit values win")
	assert.Equal(t, "acme:blog:event:article-published:e1", to.GetRef(FieldCtxCausatorRef).String())
	assert.Equal(t, map[string]any{"vendor": "acme"}, to.GetObject(FieldCtxApp))

	frozen := pbj.New(EventExecutionFailedSchema).Freeze()
	assert.NotPanics(t, func() { CopyContext(from, frozen) })
	assert.False(t, frozen.Has(FieldCtxTenantID))
}
