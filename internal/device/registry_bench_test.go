package device

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// benchReport builds an `adb devices -l` report with n devices, every third
// one offline.
func benchReport(n int) string {
	var b strings.Builder
	b.WriteString("List of devices attached\n")
	for i := 0; i < n; i++ {
		status := "device"
		if i%3 == 0 {
			status = "offline"
		}
		fmt.Fprintf(&b, "emulator-%04d          %s product:sdk_gphone64 model:Pixel_%d device:emu64a transport_id:%d\n",
			5554+2*i, status, i%9, i+1)
	}
	return b.String()
}

// setupBenchRegistry creates a registry whose source reports n devices.
func setupBenchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	report := benchReport(n)
	reg, err := NewRegistry(context.Background(), func(context.Context) (string, error) {
		return report, nil
	}, nil)
	if err != nil {
		b.Fatalf("creating registry: %v", err)
	}
	return reg
}

func BenchmarkParseDeviceList(b *testing.B) {
	report := benchReport(50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseDeviceList(report)
	}
}

func BenchmarkDiff(b *testing.B) {
	old, _ := ParseDeviceList(benchReport(50))
	next, _ := ParseDeviceList(strings.ReplaceAll(benchReport(60), "offline", "device"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Diff(old, next)
	}
}

func BenchmarkRegistryGet(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Get("emulator-5654") //nolint:errcheck // benchmark
	}
}

func BenchmarkRegistryGet_Parallel(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			reg.Get("emulator-5654") //nolint:errcheck // benchmark
		}
	})
}

func BenchmarkRegistryOnline(b *testing.B) {
	reg := setupBenchRegistry(b, 200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Online()
	}
}

func BenchmarkRegistryRefresh(b *testing.B) {
	reg := setupBenchRegistry(b, 200)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.Refresh(ctx) //nolint:errcheck // benchmark
	}
}
