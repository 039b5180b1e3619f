package mux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type call struct {
	path string
	args []string
}

// recordRunner records calls and writes the output file like ffmpeg would
func recordRunner(calls *[]call, fail map[string]bool) Runner {
	return func(_ context.Context, path string, args []string) error {
		*calls = append(*calls, call{path, args})
		output := args[len(args)-1]
		if fail[filepath.Base(output)] {
			return errors.New("exit status 1")
		}
		return os.WriteFile(output, []byte("mp4"), 0644)
	}
}

func touch(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name   string
		fps    int
		inputs []string
		want   string
	}{
		{
			name:   "video only",
			inputs: []string{"a.h264"},
			want:   "-i a.h264 -c:v copy out.mp4",
		},
		{
			name:   "one audio track",
			fps:    30,
			inputs: []string{"a.h264", "a.render.wav"},
			want:   "-framerate 30 -i a.h264 -i a.render.wav -c:v copy out.mp4",
		},
		{
			name:   "mixed audio",
			inputs: []string{"a.h264", "a.render.wav", "a.capture.wav"},
			want:   "-i a.h264 -i a.render.wav -i a.capture.wav -c:v copy -filter_complex amix=inputs=2 out.mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("", WithFrameRate(tt.fps))
			got := strings.Join(m.Args("out.mp4", tt.inputs), " ")
			if !strings.HasSuffix(got, tt.want) {
				t.Errorf("Args = %q, want suffix %q", got, tt.want)
			}
		})
	}
}

func TestProcessRemovesIntermediates(t *testing.T) {
	dir := t.TempDir()
	inputs := touch(t, dir, "rec.h264", "rec.render.wav")
	var calls []call
	m := New("/usr/bin/ffmpeg", WithRunner(recordRunner(&calls, nil)))

	output := filepath.Join(dir, "rec.mp4")
	if err := m.Process(context.Background(), output, inputs); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(calls) != 1 || calls[0].path != "/usr/bin/ffmpeg" {
		t.Fatalf("calls = %+v", calls)
	}
	for _, in := range inputs {
		if _, err := os.Stat(in); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s was not removed", in)
		}
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestProcessKeepsInputsOnFailure(t *testing.T) {
	dir := t.TempDir()
	inputs := touch(t, dir, "rec.h264")
	var calls []call
	m := New("", WithRunner(recordRunner(&calls, map[string]bool{"rec.mp4": true})))

	if err := m.Process(context.Background(), filepath.Join(dir, "rec.mp4"), inputs); err == nil {
		t.Fatal("Process succeeded with a failing ffmpeg")
	}
	if _, err := os.Stat(inputs[0]); err != nil {
		t.Errorf("input removed after failure: %v", err)
	}
}

func TestProcessDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"a.render.wav", "a.h264",
		"b.h264", "b.capture.wav", "b.render.wav",
		"broken.h264",
		"notes.txt",
	)
	var calls []call
	m := New("", WithRunner(recordRunner(&calls, map[string]bool{"broken.mp4": true})))

	written, err := m.ProcessDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	want := []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "b.mp4")}
	if !reflect.DeepEqual(written, want) {
		t.Errorf("written = %v, want %v", written, want)
	}
	if len(calls) != 3 {
		t.Fatalf("ffmpeg ran %d times, want 3", len(calls))
	}

	// b: video first, then audio by name, mixed
	got := strings.Join(calls[1].args, " ")
	wantArgs := "-i " + filepath.Join(dir, "b.h264") +
		" -i " + filepath.Join(dir, "b.capture.wav") +
		" -i " + filepath.Join(dir, "b.render.wav") +
		" -c:v copy -filter_complex amix=inputs=2"
	if !strings.Contains(got, wantArgs) {
		t.Errorf("b args = %q", got)
	}

	for _, keep := range []string{"broken.h264", "notes.txt"} {
		if _, err := os.Stat(filepath.Join(dir, keep)); err != nil {
			t.Errorf("%s should be left alone: %v", keep, err)
		}
	}
}
