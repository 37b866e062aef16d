package pathmap

import "testing"

func TestSyntaxForSystem(t *testing.T) {
	tests := []struct {
		system string
		want   Syntax
	}{
		{"nt", Windows},
		{"posix", Posix},
		{"linux", Posix},
		{"", Posix},
	}

	for _, tt := range tests {
		if got := SyntaxForSystem(tt.system); got != tt.want {
			t.Errorf("SyntaxForSystem(%q) = %v, want %v", tt.system, got, tt.want)
		}
	}
}

func TestJoinPosix(t *testing.T) {
	tests := []struct {
		name string
		elem []string
		want string
	}{
		{"base and dir", []string{"/home/worker", "build"}, "/home/worker/build"},
		{"three components", []string{"/home/worker", "build", "src"}, "/home/worker/build/src"},
		{"trailing separator on base", []string{"/home/worker/", "build"}, "/home/worker/build"},
		{"empty component skipped", []string{"/home/worker", "", "file.txt"}, "/home/worker/file.txt"},
		{"absolute component resets", []string{"/home/worker", "/tmp/out"}, "/tmp/out"},
		{"single element", []string{"/base"}, "/base"},
		{"no elements", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Posix.Join(tt.elem...); got != tt.want {
				t.Errorf("Posix.Join(%v) = %q, want %q", tt.elem, got, tt.want)
			}
		})
	}
}

func TestJoinWindows(t *testing.T) {
	tests := []struct {
		name string
		elem []string
		want string
	}{
		{"base and dir", []string{`C:\wrk`, "build"}, `C:\wrk\build`},
		{"forward slashes normalized", []string{`C:\wrk`, "build/src"}, `C:\wrk\build\src`},
		{"trailing separator on base", []string{`C:\wrk\`, "build"}, `C:\wrk\build`},
		{"drive-letter component resets", []string{`C:\wrk`, `D:\other`}, `D:\other`},
		{"rooted component resets", []string{`C:\wrk`, `\other`}, `\other`},
		{"empty component skipped", []string{`C:\wrk`, "", "out.log"}, `C:\wrk\out.log`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Windows.Join(tt.elem...); got != tt.want {
				t.Errorf("Windows.Join(%v) = %q, want %q", tt.elem, got, tt.want)
			}
		})
	}
}

func TestExpandUserPosix(t *testing.T) {
	environ := map[string]string{"HOME": "/home/worker"}

	tests := []struct {
		name    string
		path    string
		environ map[string]string
		want    string
	}{
		{"bare tilde", "~", environ, "/home/worker"},
		{"tilde with path", "~/src/main.go", environ, "/home/worker/src/main.go"},
		{"no tilde untouched", "src/main.go", environ, "src/main.go"},
		{"named user untouched", "~other/file", environ, "~other/file"},
		{"missing HOME untouched", "~/file", map[string]string{}, "~/file"},
		{"root home", "~/file", map[string]string{"HOME": "/"}, "/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandUser(Posix, tt.path, tt.environ); got != tt.want {
				t.Errorf("ExpandUser(Posix, %q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExpandUserWindows(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		environ map[string]string
		want    string
	}{
		{
			"userprofile",
			`~\src`,
			map[string]string{"USERPROFILE": `C:\Users\worker`},
			`C:\Users\worker\src`,
		},
		{
			"homedrive plus homepath",
			`~\src`,
			map[string]string{"HOMEDRIVE": "C:", "HOMEPATH": `\Users\worker`},
			`C:\Users\worker\src`,
		},
		{
			"named user swaps last component",
			`~other\src`,
			map[string]string{"USERPROFILE": `C:\Users\worker`},
			`C:\Users\other\src`,
		},
		{
			"no home variables untouched",
			`~\src`,
			map[string]string{},
			`~\src`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandUser(Windows, tt.path, tt.environ); got != tt.want {
				t.Errorf("ExpandUser(Windows, %q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
