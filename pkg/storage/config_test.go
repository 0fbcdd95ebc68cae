package storage_test

import (
	"strings"
	"testing"

	"github.com/JaimeStill/meridian/pkg/storage"
)

func TestFinalizeDefaults(t *testing.T) {
	cfg := storage.Config{ConnectionString: "test-connection"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if cfg.ContainerName != "batches" {
		t.Errorf("container_name: got %s, want batches", cfg.ContainerName)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("max_retries: got %d, want 3", cfg.MaxRetries)
	}
	if cfg.UsesCredential() {
		t.Error("connection string config should not use a credential")
	}
}

func TestFinalizeEnvOverrides(t *testing.T) {
	t.Setenv("TEST_CONTAINER", "manifests")
	t.Setenv("TEST_SERVICE_URL", "https://acct.blob.core.windows.net")

	env := &storage.Env{
		ContainerName: "TEST_CONTAINER",
		ServiceURL:    "TEST_SERVICE_URL",
	}

	cfg := storage.Config{}
	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if cfg.ContainerName != "manifests" {
		t.Errorf("container_name: got %s, want manifests", cfg.ContainerName)
	}
	if !cfg.UsesCredential() {
		t.Error("service url config should use a credential")
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr string
	}{
		{
			name:    "no endpoint",
			cfg:     storage.Config{ContainerName: "batches"},
			wantErr: "connection_string or service_url required",
		},
		{
			name:    "insecure service url",
			cfg:     storage.Config{ServiceURL: "http://acct.blob.core.windows.net"},
			wantErr: "invalid service_url",
		},
		{
			name:    "negative retries",
			cfg:     storage.Config{ConnectionString: "conn", MaxRetries: -1},
			wantErr: "max_retries",
		},
		{
			name: "connection string",
			cfg:  storage.Config{ConnectionString: "conn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := storage.Config{ContainerName: "batches", ConnectionString: "base-conn"}
	overlay := storage.Config{ConnectionString: "overlay-conn", MaxRetries: 5}
	base.Merge(&overlay)

	if base.ContainerName != "batches" {
		t.Errorf("container_name: got %s, want batches", base.ContainerName)
	}
	if base.ConnectionString != "overlay-conn" {
		t.Errorf("connection_string: got %s, want overlay-conn", base.ConnectionString)
	}
	if base.MaxRetries != 5 {
		t.Errorf("max_retries: got %d, want 5", base.MaxRetries)
	}
}
