package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
redis:
  url: localhost:6379
storage:
  image_bucket: images
notify:
  base_url: http://app.local/
model:
  serving_url: http://tfs:8501
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), false)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if cfg.Lock.Name != "model_init_lock" {
		t.Errorf("expected default lock name, got %q", cfg.Lock.Name)
	}
	if cfg.Lock.Lease != 3*time.Minute {
		t.Errorf("expected default lease 3m, got %s", cfg.Lock.Lease)
	}
	if cfg.Notify.BaseURL != "http://app.local" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Notify.BaseURL)
	}
	if cfg.Model.Runtime != "tfserving" {
		t.Errorf("expected tfserving runtime, got %q", cfg.Model.Runtime)
	}
	if cfg.Model.InputTensor != "input_1" || cfg.Model.OutputTensor != "dense_3/Softmax" {
		t.Errorf("unexpected anchors %q/%q", cfg.Model.InputTensor, cfg.Model.OutputTensor)
	}
	if cfg.Queue.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.ConsumerID == "" {
		t.Error("expected a consumer id to be derived")
	}
	if cfg.Init.BackoffMin != time.Second || cfg.Init.BackoffMax != time.Minute {
		t.Errorf("unexpected backoff %s..%s", cfg.Init.BackoffMin, cfg.Init.BackoffMax)
	}
}

func TestParse_LeaseFollowsInitTimeout(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML+"init:\n  timeout: 5m\n"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lock.Lease != 6*time.Minute {
		t.Errorf("expected lease to outlive init.timeout, got %s", cfg.Lock.Lease)
	}
	if cfg.Queue.ModelWait != 6*time.Minute {
		t.Errorf("expected model wait to cover init.timeout, got %s", cfg.Queue.ModelWait)
	}
}

func TestParse_NoExpiryLock(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML+"lock:\n  no_expiry: true\n  lease: 30s\n"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lock.Lease != 0 {
		t.Errorf("expected lease disabled, got %s", cfg.Lock.Lease)
	}
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("IMAGE_BUCKET", "xrays")
	t.Setenv("APPLICATION_URL", "http://front:3000")
	y := `
redis:
  url: localhost:6379
storage:
  image_bucket: ${IMAGE_BUCKET}
notify:
  base_url: ${APPLICATION_URL}
model:
  runtime: static
`
	cfg, err := Parse([]byte(y), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.ImageBucket != "xrays" {
		t.Errorf("expected bucket from env, got %q", cfg.Storage.ImageBucket)
	}
	if cfg.Notify.BaseURL != "http://front:3000" {
		t.Errorf("expected url from env, got %q", cfg.Notify.BaseURL)
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		dev     bool
		wantErr string
	}{
		{"missing redis", "storage:\n  image_bucket: b\nnotify:\n  base_url: http://x\n", false, "redis.url"},
		{"missing bucket", "redis:\n  url: r:6379\nnotify:\n  base_url: http://x\n", false, "image_bucket"},
		{"missing notify outside dev", "redis:\n  url: r:6379\nstorage:\n  image_bucket: b\nmodel:\n  runtime: static\n", false, "notify.base_url"},
		{"tfserving without url", "redis:\n  url: r:6379\nstorage:\n  image_bucket: b\nnotify:\n  base_url: http://x\n", false, "serving_url"},
		{"unknown runtime", minimalYAML + "  runtime: onnx\n", false, "not supported"},
		{"lease not longer than init timeout", minimalYAML + "lock:\n  lease: 2m\ninit:\n  timeout: 2m\n", false, "lock.lease"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml), tc.dev)
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}

	t.Run("dev mode falls back to static model and allows no notify url", func(t *testing.T) {
		cfg, err := Parse([]byte("redis:\n  url: r:6379\nstorage:\n  image_bucket: b\n"), true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Model.Runtime != "static" {
			t.Errorf("expected static runtime in dev, got %q", cfg.Model.Runtime)
		}
	})
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.ImageBucket != "images" {
		t.Errorf("unexpected bucket %q", cfg.Storage.ImageBucket)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing file")
	}
}
