// Package blobtest holds the behavioural suite every blob backend must pass.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"onebreath/internal/blob/core"
	"onebreath/pkg/domain"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) core.Store

// Run exercises the core.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetHead", func(t *testing.T) {
		s := newStore(t)
		info, err := s.Put(ctx, "documents/A1/form.pdf", strings.NewReader("pdf-bytes"), core.PutOptions{
			ContentType: "application/pdf",
			Metadata:    map[string]string{"chip_id": "A1"},
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Key != "documents/A1/form.pdf" || info.Size != int64(len("pdf-bytes")) {
			t.Fatalf("unexpected put info %+v", info)
		}
		got, rc, err := s.Get(ctx, "documents/A1/form.pdf")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		if string(body) != "pdf-bytes" {
			t.Fatalf("unexpected body %q", body)
		}
		if got.ContentType != "application/pdf" || got.Metadata["chip_id"] != "A1" {
			t.Fatalf("metadata lost: %+v", got)
		}
		head, err := s.Head(ctx, "documents/A1/form.pdf")
		if err != nil || head.Size != info.Size {
			t.Fatalf("head: %+v %v", head, err)
		}
	})

	t.Run("CreateOnlyAndOverwrite", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Put(ctx, "k", strings.NewReader("one"), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		_, err := s.Put(ctx, "k", strings.NewReader("two"), core.PutOptions{})
		if !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		if domain.KindOf(err) != domain.KindConflict {
			t.Fatalf("expected conflict kind, got %q", domain.KindOf(err))
		}
		if _, err := s.Put(ctx, "k", strings.NewReader("three"), core.PutOptions{Overwrite: true}); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		_, rc, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rc)
		if buf.String() != "three" {
			t.Fatalf("expected overwritten content, got %q", buf.String())
		}
	})

	t.Run("MissingKeys", func(t *testing.T) {
		s := newStore(t)
		if _, _, err := s.Get(ctx, "nope"); domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("get missing: expected not_found, got %v", err)
		}
		if _, err := s.Head(ctx, "nope"); domain.KindOf(err) != domain.KindNotFound {
			t.Fatalf("head missing: expected not_found, got %v", err)
		}
		existed, err := s.Delete(ctx, "nope")
		if err != nil || existed {
			t.Fatalf("delete missing: %v %v", existed, err)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"database_backups/b.json.gz", "database_backups/a.json.gz", "other/x"} {
			if _, err := s.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
				t.Fatalf("put %s: %v", key, err)
			}
		}
		infos, err := s.List(ctx, "database_backups/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(infos) != 2 || infos[0].Key != "database_backups/a.json.gz" || infos[1].Key != "database_backups/b.json.gz" {
			t.Fatalf("unexpected listing %+v", infos)
		}
		existed, err := s.Delete(ctx, "other/x")
		if err != nil || !existed {
			t.Fatalf("delete: %v %v", existed, err)
		}
		all, err := s.List(ctx, "")
		if err != nil || len(all) != 2 {
			t.Fatalf("expected 2 remaining, got %d (%v)", len(all), err)
		}
	})

	t.Run("RejectsUnsafeKeys", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"", "../escape", "/abs", "a/../../b"} {
			if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); domain.KindOf(err) != domain.KindInvalid {
				t.Fatalf("key %q: expected invalid, got %v", key, err)
			}
		}
	})

	t.Run("PresignGETOnly", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Put(ctx, "doc.pdf", strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		u, err := s.PresignURL(ctx, "doc.pdf", core.SignedURLOptions{})
		if err != nil || !strings.Contains(u, "doc.pdf") {
			t.Fatalf("presign: %q %v", u, err)
		}
		if _, err := s.PresignURL(ctx, "doc.pdf", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported for PUT, got %v", err)
		}
	})
}
