package service

import (
	"mime"
	"path/filepath"
	"strings"
)

// allowedTypes maps every accepted extension to its canonical MIME type.
var allowedTypes = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
}

// blockedExtensions are rejected whatever MIME type is declared.
var blockedExtensions = map[string]bool{
	"exe": true, "msi": true, "bat": true, "cmd": true, "com": true,
	"scr": true, "dll": true, "sh": true, "ps1": true, "js": true, "jar": true,
}

var extensionByMIME = func() map[string]string {
	m := make(map[string]string, len(allowedTypes))
	for ext, mt := range allowedTypes {
		if _, ok := m[mt]; !ok || len(ext) < len(m[mt]) {
			m[mt] = ext
		}
	}
	return m
}()

// normalizeMIME strips parameters and lowercases a declared content type.
func normalizeMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// fileExtension returns the lowercased extension of name without the dot.
func fileExtension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// resolveType checks a filename and declared MIME type against the allow-list.
// Either an allowed extension or an allowed MIME type is sufficient; blocked extensions never pass.
// It returns the extension used in the storage path and the content type to record.
func resolveType(filename, contentType string) (ext, mt string, err error) {
	ext = fileExtension(filename)
	mt = normalizeMIME(contentType)

	if blockedExtensions[ext] {
		return "", "", invalid("file", "file type .%s is not allowed", ext)
	}

	_, extOK := allowedTypes[ext]
	mimeExt, mimeOK := extensionByMIME[mt]

	switch {
	case extOK && mimeOK:
		return ext, mt, nil
	case extOK:
		return ext, allowedTypes[ext], nil
	case mimeOK:
		if ext == "" || !safeExtension(ext) {
			ext = mimeExt
		}
		return ext, mt, nil
	}
	return "", "", invalid("file", "unsupported file type (extension %q, content type %q)", ext, mt)
}

// safeExtension reports whether ext is short alphanumeric text fit for a storage key.
func safeExtension(ext string) bool {
	if len(ext) == 0 || len(ext) > 10 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ParseTags splits a comma separated list, dropping blanks and duplicates.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
