package helpers

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple string",
			input:    "Hello World",
			expected: "hello_world",
		},
		{
			name:     "with numbers",
			input:    "Model V2.0",
			expected: "model_v2.0",
		},
		{
			name:     "with colons",
			input:    "SD 1.5: Base Model",
			expected: "sd_1.5-base_model",
		},
		{
			name:     "special characters removed",
			input:    "Test@Model#With$Special%Chars",
			expected: "testmodelwithspecialchars",
		},
		{
			name:     "multiple spaces",
			input:    "Hello   World",
			expected: "hello_world",
		},
		{
			name:     "dashes preserved",
			input:    "my-cool-model",
			expected: "my-cool-model",
		},
		{
			name:     "leading/trailing separators removed",
			input:    "__test__",
			expected: "test",
		},
		{
			name:     "only special chars",
			input:    "@#$%^&*()",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertToSlug(tt.input)
			if got != tt.expected {
				t.Errorf("ConvertToSlug(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		bytes    uint64
	}{
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "kibibytes", bytes: 1024, expected: "1.0 KiB"},
		{name: "fractional mebibytes", bytes: 1536 * 1024, expected: "1.5 MiB"},
		{name: "gibibytes", bytes: 1024 * 1024 * 1024, expected: "1.0 GiB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.expected {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple path", input: "folder/file.txt", expected: "folder/file.txt"},
		{name: "path traversal attempt", input: "../../etc/passwd", expected: "etc/passwd"},
		{name: "absolute path", input: "/absolute/path/file.txt", expected: "absolute/path/file.txt"},
		{name: "complex traversal", input: "a/b/../c/../d", expected: "a/d"},
		{name: "empty", input: "", expected: "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.input)
			if got != filepath.FromSlash(tt.expected) {
				t.Errorf("SanitizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"model.safetensors", "model.safetensors"},
		{"../evil.pt", ".._evil.pt"},
		{`dir\name.ckpt`, "dir_name.ckpt"},
		{"", UnknownFileName},
		{"  ", UnknownFileName},
		{"..", UnknownFileName},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.input); got != tt.expected {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestSanitizeHeaderFileName(t *testing.T) {
	if got := SanitizeHeaderFileName(`a:b*c?.pt`); got != "a_b_c_.pt" {
		t.Errorf("unexpected %q", got)
	}
	if got := SanitizeHeaderFileName(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestStringSliceContains(t *testing.T) {
	if !StringSliceContains([]string{"Apple", "Banana"}, "banana") {
		t.Error("expected case-insensitive match")
	}
	if StringSliceContains([]string{"apple"}, "grape") {
		t.Error("unexpected match")
	}
	if StringSliceContains(nil, "anything") {
		t.Error("unexpected match on nil slice")
	}
}

func TestGetExtensionFromMimeType(t *testing.T) {
	tests := []struct {
		mimeType    string
		expectedExt string
		expectedOk  bool
	}{
		{"image/jpeg", ".jpg", true},
		{"image/png", ".png", true},
		{"image/webp", ".webp", true},
		{"image/jpeg; charset=utf-8", ".jpg", true},
		{"application/octet-stream", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.mimeType, func(t *testing.T) {
			ext, ok := GetExtensionFromMimeType(tt.mimeType)
			if ext != tt.expectedExt || ok != tt.expectedOk {
				t.Errorf("GetExtensionFromMimeType(%q) = (%q, %v), want (%q, %v)",
					tt.mimeType, ext, ok, tt.expectedExt, tt.expectedOk)
			}
		})
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	tempDir := t.TempDir()

	nested := filepath.Join(tempDir, "nested", "path", "here")
	if err := CheckAndMakeDir(nested); err != nil {
		t.Fatalf("CheckAndMakeDir(%q) error = %v", nested, err)
	}
	if info, err := os.Stat(nested); err != nil || !info.IsDir() {
		t.Fatalf("directory %q was not created", nested)
	}

	// Existing directory is fine.
	if err := CheckAndMakeDir(nested); err != nil {
		t.Errorf("second call error = %v", err)
	}

	filePath := filepath.Join(tempDir, "file.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := CheckAndMakeDir(filePath); err == nil {
		t.Error("expected error when path is a regular file")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	hashes, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	const wantSHA = "2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824"
	if hashes.SHA256 != wantSHA {
		t.Errorf("SHA256 = %s, want %s", hashes.SHA256, wantSHA)
	}
	if len(hashes.BLAKE3) != 64 {
		t.Errorf("BLAKE3 length = %d, want 64", len(hashes.BLAKE3))
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
