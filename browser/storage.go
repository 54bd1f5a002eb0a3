package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/visionbridge/kv"
)

// LocalStorage is a kv.Store over window.localStorage. Access errors in the
// page (disabled storage, sandboxed frames, quota) read as Unavailable.
type LocalStorage struct {
	page *rod.Page
}

var _ kv.Store = (*LocalStorage)(nil)

const jsStorageGet = `(k) => {
	try {
		const v = window.localStorage.getItem(k);
		return v === null ? { found: false } : { found: true, value: v };
	} catch (e) {
		return { error: String(e) };
	}
}`

const jsStorageSet = `(k, v) => {
	try { window.localStorage.setItem(k, v); return ''; } catch (e) { return String(e); }
}`

const jsStorageDelete = `(k) => {
	try { window.localStorage.removeItem(k); return ''; } catch (e) { return String(e); }
}`

func (s *LocalStorage) Get(ctx context.Context, key string) kv.Value {
	res, err := s.page.Context(ctx).Eval(jsStorageGet, key)
	if err != nil {
		return kv.Value{Outcome: kv.Unavailable, Err: fmt.Errorf("browser: storage get: %w", err)}
	}
	v := res.Value
	if e := v.Get("error"); !e.Nil() {
		return kv.Value{Outcome: kv.Unavailable, Err: fmt.Errorf("browser: storage get: %w: %s", kv.ErrUnavailable, e.Str())}
	}
	if !v.Get("found").Bool() {
		return kv.Value{Outcome: kv.Missing}
	}
	return kv.Value{Data: v.Get("value").Str(), Outcome: kv.Found}
}

func (s *LocalStorage) Set(ctx context.Context, key, value string) error {
	return s.run(ctx, jsStorageSet, key, value)
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	return s.run(ctx, jsStorageDelete, key)
}

func (s *LocalStorage) run(ctx context.Context, js string, args ...any) error {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("browser: storage: %w", err)
	}
	if msg := res.Value.Str(); msg != "" {
		return fmt.Errorf("browser: storage: %w", errors.Join(kv.ErrUnavailable, errors.New(msg)))
	}
	return nil
}
