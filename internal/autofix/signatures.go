package autofix

import (
	"fmt"
	"regexp"
	"strings"
)

// SignatureKind tags a known build-error class. Known signatures are checked
// before the AI fallback because their remediations are cheap and reliable.
type SignatureKind string

const (
	SigMissingModule   SignatureKind = "missing_module"
	SigExportIncompat  SignatureKind = "export_incompat"
	SigStylesheetClash SignatureKind = "stylesheet_clash"
	SigLegacyCrypto    SignatureKind = "legacy_crypto"
	SigCacheCorrupt    SignatureKind = "cache_corrupt"
)

// Signature is a classified build error plus what the classifier extracted
// from it (e.g. the missing module name).
type Signature struct {
	Kind   SignatureKind
	Module string
}

// Description returns a human-readable label for the action log.
func (s Signature) Description() string {
	switch s.Kind {
	case SigMissingModule:
		return fmt.Sprintf("missing module %q", s.Module)
	case SigExportIncompat:
		if s.Module != "" {
			return fmt.Sprintf("package export incompatibility in %q", s.Module)
		}
		return "package export incompatibility"
	case SigStylesheetClash:
		return "stylesheet toolchain conflict"
	case SigLegacyCrypto:
		return "legacy crypto provider error"
	case SigCacheCorrupt:
		return "corrupted dependency cache"
	}
	return string(s.Kind)
}

var (
	missingModuleRe  = regexp.MustCompile(`Cannot find module '([^']+)'`)
	cantResolveRe    = regexp.MustCompile(`Can't resolve '([^']+)'`)
	moduleNotFoundRe = regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`)
	exportedPathRe   = regexp.MustCompile(`No "exports" main defined in .*node_modules[/\\]([^/\\]+)[/\\]package\.json`)
	noExportRe       = regexp.MustCompile(`does not provide an export named`)
)

// Classify matches captured build output against the ordered table of known
// error signatures. It is a pure function so it can be tested without
// running any subprocess.
func Classify(output string) (Signature, bool) {
	// Missing dependency, in order of specificity.
	if m := missingModuleRe.FindStringSubmatch(output); m != nil && !strings.HasPrefix(m[1], ".") {
		return Signature{Kind: SigMissingModule, Module: m[1]}, true
	}
	if m := cantResolveRe.FindStringSubmatch(output); m != nil && !strings.HasPrefix(m[1], ".") {
		return Signature{Kind: SigMissingModule, Module: m[1]}, true
	}
	if m := moduleNotFoundRe.FindStringSubmatch(output); m != nil {
		return Signature{Kind: SigMissingModule, Module: m[1]}, true
	}

	// Package export / runtime incompatibility.
	if m := exportedPathRe.FindStringSubmatch(output); m != nil {
		return Signature{Kind: SigExportIncompat, Module: m[1]}, true
	}
	if noExportRe.MatchString(output) || strings.Contains(output, "ERR_PACKAGE_PATH_NOT_EXPORTED") {
		return Signature{Kind: SigExportIncompat}, true
	}

	// Tailwind used directly as a PostCSS plugin.
	if strings.Contains(output, "tailwindcss") && strings.Contains(output, "PostCSS plugin") {
		return Signature{Kind: SigStylesheetClash}, true
	}

	// OpenSSL 3 vs legacy webpack hash function.
	if strings.Contains(output, "error:0308010C") ||
		strings.Contains(output, "digital envelope routines::unsupported") {
		return Signature{Kind: SigLegacyCrypto}, true
	}

	// Corrupted or inconsistent dependency cache.
	if strings.Contains(output, "EINTEGRITY") ||
		strings.Contains(output, "integrity checksum failed") ||
		(strings.Contains(output, "ENOENT") && strings.Contains(output, "node_modules")) {
		return Signature{Kind: SigCacheCorrupt}, true
	}

	return Signature{}, false
}

// filePathRe matches path-like tokens with a recognizable source extension.
var filePathRe = regexp.MustCompile(`[\w@./\\-]+\.(?:jsx?|tsx?|mjs|cjs|css|scss|json|py|go|html)\b`)

// ExtractFilePath pulls the first recognizable source file path out of error
// text, skipping anything inside dependency directories. Returns "" when
// nothing usable is found.
func ExtractFilePath(output string) string {
	for _, m := range filePathRe.FindAllString(output, -1) {
		if strings.Contains(m, "node_modules") || strings.Contains(m, "internal/modules") {
			continue
		}
		m = strings.TrimLeft(m, "./\\")
		if m == "" {
			continue
		}
		return m
	}
	return ""
}
