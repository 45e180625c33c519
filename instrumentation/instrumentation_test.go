package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Fatal("Metrics() should be initialized")
	}
	if inst.Meter("storage") == nil {
		t.Error("Meter() should return a meter")
	}
	if inst.Tracer("storage") == nil {
		t.Error("Tracer() should return a tracer")
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	inst, err := New(Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Both outcome paths must be safe to record.
	m := inst.Metrics()
	m.RecordStorageOperation(context.Background(), "memory", "get_client", nil, time.Now())
	m.RecordStorageOperation(context.Background(), "memory", "get_client", errors.New("boom"), time.Now())
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 1 },
		func() int64 { return 2 },
		func() int64 { return 3 },
		func() int64 { return 4 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	// All helpers must tolerate a nil span.
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil)
	AddStorageAttributes(nil, "get_client", "memory")
}
