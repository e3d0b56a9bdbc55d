package portaudio

import (
	"testing"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/auris/pkg/audio"
)

func TestFallbackFormats_NativeRateFirst(t *testing.T) {
	dev := &pa.DeviceInfo{Name: "usb mic", MaxInputChannels: 1, DefaultSampleRate: 44100}
	got := fallbackFormats(audio.Format{SampleRate: 16000, Channels: 1}, dev)

	if len(got) == 0 {
		t.Fatal("no fallback formats for a device with a different native rate")
	}
	if got[0] != (audio.Format{SampleRate: 44100, Channels: 1}) {
		t.Errorf("first fallback = %+v, want native rate at requested channels", got[0])
	}
}

func TestFallbackFormats_StereoServesMonoRequest(t *testing.T) {
	dev := &pa.DeviceInfo{Name: "stereo interface", MaxInputChannels: 2, DefaultSampleRate: 48000}
	got := fallbackFormats(audio.Format{SampleRate: 16000, Channels: 1}, dev)

	want := []audio.Format{
		{SampleRate: 48000, Channels: 1},
		{SampleRate: 16000, Channels: 2},
		{SampleRate: 48000, Channels: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d fallback formats %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("fallback[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFallbackFormats_NoUpmix(t *testing.T) {
	// A mono-only device cannot serve a stereo request; the converter
	// only downmixes.
	dev := &pa.DeviceInfo{Name: "mono mic", MaxInputChannels: 1, DefaultSampleRate: 16000}
	if got := fallbackFormats(audio.Format{SampleRate: 16000, Channels: 2}, dev); len(got) != 0 {
		t.Errorf("fallback formats = %v, want none for an unbridgeable request", got)
	}
}

func TestFallbackFormats_SkipsUnusableNativeRate(t *testing.T) {
	dev := &pa.DeviceInfo{Name: "broken", MaxInputChannels: 1, DefaultSampleRate: 0}
	if got := fallbackFormats(audio.Format{SampleRate: 16000, Channels: 1}, dev); len(got) != 0 {
		t.Errorf("fallback formats = %v, want none when the device reports no rate", got)
	}
}
