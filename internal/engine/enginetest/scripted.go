// Package enginetest provides a scripted engine.Engine for exercising the
// streaming bridge without a real model.
package enginetest

import (
	"sync"
	"sync/atomic"
	"time"

	"tokenbridge/internal/engine"
)

// Script describes how one handle behaves when GenerateStream is called.
type Script struct {
	// Reject makes GenerateStream return this code immediately with no callbacks.
	Reject engine.ResultCode
	// Tokens are emitted in order through OnToken.
	Tokens []string
	// TokenDelay is slept before each token.
	TokenDelay time.Duration
	// Gate, if set, is received from before each token is emitted.
	Gate <-chan struct{}
	// Result is passed to OnComplete. A nil Result reports all zero counters.
	Result *engine.Result
	// ErrCode, when non-zero, ends the stream through OnError instead of OnComplete.
	ErrCode    engine.ResultCode
	ErrMessage string
	// BothTerminals fires OnComplete and then OnError.
	BothTerminals bool
	// NoTerminal returns from GenerateStream without any terminal callback.
	NoTerminal bool
	// LateTerminal fires the terminal callback from another goroutine this long
	// after GenerateStream has returned.
	LateTerminal time.Duration
	// ReturnCode is returned after streaming. Defaults to Success.
	ReturnCode engine.ResultCode
}

// Call records one GenerateStream invocation.
type Call struct {
	Handle    engine.Handle
	Prompt    string
	Opts      engine.Options
	Emitted   int
	Continues []bool
	Stopped   bool
}

// Engine is a scripted engine. Handles are registered with Add or Load.
type Engine struct {
	mu        sync.Mutex
	next      engine.Handle
	scripts   map[engine.Handle]Script
	cancelled map[engine.Handle]*atomic.Bool
	calls     []Call
	// Default is used for handles created through Load.
	Default Script
}

// New returns an empty scripted engine.
func New() *Engine {
	return &Engine{
		scripts:   make(map[engine.Handle]Script),
		cancelled: make(map[engine.Handle]*atomic.Bool),
	}
}

// Add registers s under a fresh handle.
func (e *Engine) Add(s Script) engine.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	h := e.next
	e.scripts[h] = s
	e.cancelled[h] = &atomic.Bool{}
	return h
}

// Load registers the Default script. The model path is ignored.
func (e *Engine) Load(modelPath string, cfg engine.LoadConfig) (engine.Handle, error) {
	return e.Add(e.Default), nil
}

// Unload forgets h.
func (e *Engine) Unload(h engine.Handle) error {
	e.mu.Lock()
	delete(e.scripts, h)
	delete(e.cancelled, h)
	e.mu.Unlock()
	return nil
}

// Cancel flags h so the next token iteration stops.
func (e *Engine) Cancel(h engine.Handle) {
	e.mu.Lock()
	c := e.cancelled[h]
	e.mu.Unlock()
	if c != nil {
		c.Store(true)
	}
}

// Calls returns a copy of the recorded invocations.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *Engine) GenerateStream(h engine.Handle, prompt string, opts engine.Options, cb engine.Callbacks, userData uintptr) engine.ResultCode {
	e.mu.Lock()
	s, ok := e.scripts[h]
	cancelled := e.cancelled[h]
	e.mu.Unlock()
	if !ok {
		return engine.ErrInvalidHandle
	}
	if s.Reject != engine.Success {
		return s.Reject
	}
	cancelled.Store(false)

	call := Call{Handle: h, Prompt: prompt, Opts: opts}
	defer func() {
		e.mu.Lock()
		e.calls = append(e.calls, call)
		e.mu.Unlock()
	}()

	// One buffer for every token, scribbled over after each callback so a
	// receiver that kept a reference would observe garbage.
	buf := make([]byte, 0, 32)
	for _, tok := range s.Tokens {
		if s.Gate != nil {
			<-s.Gate
		}
		if s.TokenDelay > 0 {
			time.Sleep(s.TokenDelay)
		}
		if cancelled.Load() {
			call.Stopped = true
			break
		}
		buf = append(buf[:0], tok...)
		cont := cb.OnToken(buf, userData)
		for i := range buf {
			buf[i] = '#'
		}
		call.Emitted++
		call.Continues = append(call.Continues, cont)
		if !cont {
			call.Stopped = true
			break
		}
	}

	terminal := func() {
		res := engine.Result{}
		if s.Result != nil {
			res = *s.Result
		}
		switch {
		case s.BothTerminals:
			cb.OnComplete(&res, userData)
			cb.OnError(engine.ErrInternal, "duplicate terminal", userData)
		case s.ErrCode != engine.Success:
			cb.OnError(s.ErrCode, s.ErrMessage, userData)
		default:
			cb.OnComplete(&res, userData)
		}
	}
	switch {
	case s.NoTerminal:
	case s.LateTerminal > 0:
		time.AfterFunc(s.LateTerminal, terminal)
	default:
		terminal()
	}
	return s.ReturnCode
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Loader = (*Engine)(nil)
)
