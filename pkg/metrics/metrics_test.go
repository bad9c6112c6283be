// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsEnabled(t *testing.T) {
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled by default")
	}

	Disable()
	if IsEnabled() {
		t.Error("Expected metrics to be disabled after Disable()")
	}

	Enable()
	if !IsEnabled() {
		t.Error("Expected metrics to be enabled after Enable()")
	}
}

func TestRecordCommand(t *testing.T) {
	Enable()
	CommandsTotal.Reset()
	CommandDuration.Reset()

	RecordCommand("GetRandom", StatusSuccess, 0.002)
	RecordCommand("GetRandom", StatusSuccess, 0.003)
	RecordCommand("Sign", StatusError, 0.01)

	if got := testutil.ToFloat64(CommandsTotal.WithLabelValues("GetRandom", StatusSuccess)); got != 2 {
		t.Errorf("Expected 2 GetRandom round-trips, got %v", got)
	}
	if got := testutil.ToFloat64(CommandsTotal.WithLabelValues("Sign", StatusError)); got != 1 {
		t.Errorf("Expected 1 failed Sign round-trip, got %v", got)
	}
	if count := testutil.CollectAndCount(CommandDuration); count != 2 {
		t.Errorf("Expected 2 histogram series, got %d", count)
	}
}

func TestRecordResponseCode(t *testing.T) {
	Enable()
	ResponseCodesTotal.Reset()

	RecordResponseCode("Sign", 0x100)
	RecordResponseCode("Sign", 0x9a2)

	if got := testutil.ToFloat64(ResponseCodesTotal.WithLabelValues("Sign", "0x100")); got != 1 {
		t.Errorf("Expected response code 0x100 to be recorded once, got %v", got)
	}
	if got := testutil.ToFloat64(ResponseCodesTotal.WithLabelValues("Sign", "0x9a2")); got != 1 {
		t.Errorf("Expected response code 0x9a2 to be recorded once, got %v", got)
	}
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpSign, StatusSuccess, 0.5)

	if count := testutil.CollectAndCount(OperationsTotal); count != 1 {
		t.Errorf("Expected 1 operation recorded, got %d", count)
	}
	if count := testutil.CollectAndCount(OperationDuration); count != 1 {
		t.Errorf("Expected 1 histogram sample, got %d", count)
	}

	RecordOperation(OpRandom, StatusError, 0.1)

	if count := testutil.CollectAndCount(OperationsTotal); count != 2 {
		t.Errorf("Expected 2 operations recorded, got %d", count)
	}
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()

	OperationsTotal.Reset()
	RecordOperation(OpSign, StatusSuccess, 0.5)

	if count := testutil.CollectAndCount(OperationsTotal); count != 0 {
		t.Errorf("Expected 0 operations when disabled, got %d", count)
	}
}

func TestRecordError(t *testing.T) {
	Enable()
	ErrorsTotal.Reset()

	RecordError(OpSign, "device")
	RecordError(OpSign, "device")

	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpSign, "device")); got != 2 {
		t.Errorf("Expected 2 device errors, got %v", got)
	}
}

func TestAddRandomBytes(t *testing.T) {
	Enable()
	before := testutil.ToFloat64(RandomBytesTotal)

	AddRandomBytes(33)
	AddRandomBytes(0)
	AddRandomBytes(-1)

	if got := testutil.ToFloat64(RandomBytesTotal) - before; got != 33 {
		t.Errorf("Expected 33 random bytes recorded, got %v", got)
	}
}

func TestSetSessionState(t *testing.T) {
	Enable()
	SessionTransitionsTotal.Reset()

	SetSessionState("initialized", 1)
	if got := testutil.ToFloat64(SessionState); got != 1 {
		t.Errorf("Expected session state 1, got %v", got)
	}

	SetSessionState("destroyed", 2)
	if got := testutil.ToFloat64(SessionState); got != 2 {
		t.Errorf("Expected session state 2, got %v", got)
	}
	if got := testutil.ToFloat64(SessionTransitionsTotal.WithLabelValues("destroyed")); got != 1 {
		t.Errorf("Expected 1 destroyed transition, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "200", 0.05)

	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 1 {
		t.Errorf("Expected 1 HTTP request recorded, got %d", count)
	}
}

func TestMetricsNamespace(t *testing.T) {
	if Namespace != "tpmengine" {
		t.Errorf("Expected namespace 'tpmengine', got %s", Namespace)
	}
}

func BenchmarkRecordCommand(b *testing.B) {
	Enable()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecordCommand("GetRandom", StatusSuccess, 0.001)
	}
}
