package process

import (
	"errors"
	"os/exec"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"single word", "python3", []string{"python3"}},
		{"with flags", "python3 -X utf8", []string{"python3", "-X", "utf8"}},
		{"tabs and extra spaces", "  uv\trun   python ", []string{"uv", "run", "python"}},
		{"double quoted path", `"/opt/my python/bin/python3" -u`, []string{"/opt/my python/bin/python3", "-u"}},
		{"single quoted", `py '-3.12'`, []string{"py", "-3.12"}},
		{"nested quotes", `sh -c "echo 'hi'"`, []string{"sh", "-c", "echo 'hi'"}},
		{"escaped space", `/opt/my\ env/python`, []string{"/opt/my env/python"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.command)
			if err != nil {
				t.Fatalf("parseCommand(%q) error: %v", tt.command, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestParseCommandInvalid(t *testing.T) {
	for _, command := range []string{`python3 "unterminated`, "", "   "} {
		if _, err := parseCommand(command); err == nil {
			t.Errorf("parseCommand(%q) should fail", command)
		}
	}
}

func TestExitCodeFromError(t *testing.T) {
	if got := exitCodeFromError(nil); got != 0 {
		t.Errorf("nil error: got %d, want 0", got)
	}
	if got := exitCodeFromError(errors.New("boom")); got != 1 {
		t.Errorf("plain error: got %d, want 1", got)
	}

	err := exec.Command("sh", "-c", "exit 7").Run()
	if got := exitCodeFromError(err); got != 7 {
		t.Errorf("exit error: got %d, want 7", got)
	}
}

func TestCheckInput(t *testing.T) {
	accepted := []string{"a.xlsx", "b.XLSM", "/tmp/c.xlsb", "d.Xls", "e.csv", `C:\data\f.CSV`, " g.xlsx\n"}
	for _, path := range accepted {
		if err := CheckInput(path); err != nil {
			t.Errorf("CheckInput(%q) = %v, want nil", path, err)
		}
	}

	rejected := []string{"", " ", "notes.txt", "xlsx", "book.xlsx.bak", "/tmp/dir/"}
	for _, path := range rejected {
		if err := CheckInput(path); !errors.Is(err, ErrUnsupportedInput) {
			t.Errorf("CheckInput(%q) = %v, want ErrUnsupportedInput", path, err)
		}
	}
}
