package flightz

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callLog collects the order of calls made across fakes.
type callLog struct {
	calls []string
}

func (l *callLog) add(call string) {
	l.calls = append(l.calls, call)
}

type fakeOwner struct {
	log          *callLog
	name         string
	closeEmitter int
}

func (o *fakeOwner) OperationName() string { return o.name }

func (o *fakeOwner) CloseEmitter() {
	o.closeEmitter++
	o.log.add("owner.CloseEmitter")
}

type fakeReleaser struct {
	log      *callLog
	err      error
	releases int
}

func (r *fakeReleaser) Release() error {
	r.releases++
	r.log.add("delegate.Release")
	return r.err
}

type fakeEmitter struct {
	log      *callLog
	startErr error
	closeErr error
}

func (e *fakeEmitter) Start(name string) error {
	e.log.add("start(" + name + ")")
	return e.startErr
}

func (e *fakeEmitter) Close() error {
	e.log.add("end")
	return e.closeErr
}

type fakeFactory struct {
	emitter *fakeEmitter
	owners  []Owner
}

func (f *fakeFactory) SpanEmitter(*Span) Emitter { return f.emitter }

func (f *fakeFactory) ScopeEmitter(owner Owner) Emitter {
	f.owners = append(f.owners, owner)
	return f.emitter
}

type scopeFixture struct {
	log      *callLog
	owner    *fakeOwner
	delegate *fakeReleaser
	emitter  *fakeEmitter
	factory  *fakeFactory
	reported []error
}

func newScopeFixture(name string) *scopeFixture {
	log := &callLog{}
	emitter := &fakeEmitter{log: log}
	return &scopeFixture{
		log:      log,
		owner:    &fakeOwner{log: log, name: name},
		delegate: &fakeReleaser{log: log},
		emitter:  emitter,
		factory:  &fakeFactory{emitter: emitter},
	}
}

func (f *scopeFixture) newScope(t *testing.T, finishOnClose bool) *Scope {
	t.Helper()
	scope, err := NewScope(f.factory, f.owner, f.delegate, finishOnClose, func(err error) {
		f.reported = append(f.reported, err)
	})
	require.NoError(t, err)
	return scope
}

func TestNewScopeStartsEmitterWithOwnerName(t *testing.T) {
	f := newScopeFixture("db.query")

	scope := f.newScope(t, false)

	assert.Equal(t, []string{"start(db.query)"}, f.log.calls)
	require.Len(t, f.factory.owners, 1)
	assert.Same(t, f.owner, f.factory.owners[0])
	assert.Same(t, f.owner, scope.ActiveUnit())
	assert.False(t, scope.Closed())
}

func TestNewScopeStartFailure(t *testing.T) {
	f := newScopeFixture("db.query")
	f.emitter.startErr = errors.New("recorder offline")

	scope, err := NewScope(f.factory, f.owner, f.delegate, true, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, f.emitter.startErr)
	assert.Nil(t, scope)
	assert.Zero(t, f.delegate.releases)
}

func TestScopeCloseCascades(t *testing.T) {
	f := newScopeFixture("db.query")
	scope := f.newScope(t, true)

	require.NoError(t, scope.Close())

	assert.Equal(t, []string{
		"start(db.query)",
		"delegate.Release",
		"end",
		"owner.CloseEmitter",
	}, f.log.calls)
	assert.Equal(t, 1, f.owner.closeEmitter)
	assert.True(t, scope.Closed())
	assert.Empty(t, f.reported)
}

func TestScopeCloseWithoutCascade(t *testing.T) {
	f := newScopeFixture("cache.get")
	scope := f.newScope(t, false)

	require.NoError(t, scope.Close())

	assert.Equal(t, []string{"start(cache.get)", "delegate.Release", "end"}, f.log.calls)
	assert.Zero(t, f.owner.closeEmitter)
}

func TestScopeCloseSuppressesEmitterFailure(t *testing.T) {
	f := newScopeFixture("db.query")
	ioFailure := errors.New("io failure")
	f.emitter.closeErr = ioFailure
	scope := f.newScope(t, true)

	err := scope.Close()

	require.NoError(t, err)
	require.Len(t, f.reported, 1)
	assert.ErrorIs(t, f.reported[0], ioFailure)
	assert.Contains(t, f.reported[0].Error(), "db.query")
	assert.Equal(t, 1, f.owner.closeEmitter)
	assert.True(t, scope.Closed())
}

func TestScopeCloseEmitterFailureWithNilHandler(t *testing.T) {
	f := newScopeFixture("db.query")
	f.emitter.closeErr = errors.New("io failure")
	scope, err := NewScope(f.factory, f.owner, f.delegate, true, nil)
	require.NoError(t, err)

	assert.NoError(t, scope.Close())
	assert.Equal(t, 1, f.owner.closeEmitter)
}

func TestScopeClosePropagatesReleaseFailure(t *testing.T) {
	f := newScopeFixture("db.query")
	f.delegate.err = ErrAlreadyReleased
	scope := f.newScope(t, true)

	err := scope.Close()

	assert.ErrorIs(t, err, ErrAlreadyReleased)
	assert.Equal(t, []string{"start(db.query)", "delegate.Release"}, f.log.calls)
	assert.Zero(t, f.owner.closeEmitter)
	assert.False(t, scope.Closed())
	assert.Empty(t, f.reported)
}

func TestScopeCloseTwiceReleasesTwice(t *testing.T) {
	f := newScopeFixture("db.query")
	scope := f.newScope(t, true)

	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())

	assert.Equal(t, 2, f.delegate.releases)
	assert.Equal(t, 2, f.owner.closeEmitter)
}

func TestScopeWithEventEmitterRecordsOneEndEvent(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	recorder := NewRecorder(16)
	recorder.SetSyncMode(true)
	defer recorder.Close()
	tracer.OnEvent(recorder.Record)

	var reported []error
	log := &callLog{}
	owner := &fakeOwner{log: log, name: "db.query"}
	scope, err := NewScope(tracer.EmitterFactory(), owner, &fakeReleaser{log: log}, true, func(err error) {
		reported = append(reported, err)
	})
	require.NoError(t, err)

	require.NoError(t, scope.Close())
	require.NoError(t, scope.Close())

	events := recorder.Export()
	require.Len(t, events, 2)
	assert.Equal(t, ScopeStart, events[0].Kind)
	assert.Equal(t, "db.query", events[0].Name)
	assert.Equal(t, ScopeEnd, events[1].Kind)

	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrEmitterClosed)
}

// panickingEmitter starts cleanly and panics on Close.
type panickingEmitter struct{}

func (panickingEmitter) Start(string) error { return nil }
func (panickingEmitter) Close() error       { panic("emitter backend nil deref") }

type panickingFactory struct{}

func (panickingFactory) SpanEmitter(*Span) Emitter  { return panickingEmitter{} }
func (panickingFactory) ScopeEmitter(Owner) Emitter { return panickingEmitter{} }

func TestScopeCloseRecoversEmitterPanic(t *testing.T) {
	log := &callLog{}
	owner := &fakeOwner{log: log, name: "db.query"}
	var reported []error
	scope, err := NewScope(panickingFactory{}, owner, &fakeReleaser{log: log}, true, func(err error) {
		reported = append(reported, err)
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		assert.NoError(t, scope.Close())
	})

	assert.Equal(t, 1, owner.closeEmitter)
	assert.True(t, scope.Closed())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrEmitterPanic)
	assert.Contains(t, reported[0].Error(), "emitter backend nil deref")

	var ee *EmitterError
	require.ErrorAs(t, reported[0], &ee)
	assert.Equal(t, "scope", ee.Emitter)
	assert.Equal(t, "db.query", ee.Operation)
}

func TestScopeCloseRecoversPanicWithNilHandler(t *testing.T) {
	log := &callLog{}
	owner := &fakeOwner{log: log, name: "db.query"}
	scope, err := NewScope(panickingFactory{}, owner, &fakeReleaser{log: log}, true, nil)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		assert.NoError(t, scope.Close())
	})
	assert.Equal(t, 1, owner.closeEmitter)
}
