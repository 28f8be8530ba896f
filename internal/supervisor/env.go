// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package supervisor owns the managed inference subprocess: environment
// composition, spawn, log scanning, stop escalation, and install/update.
package supervisor

import (
	"os"
	"sort"
	"strings"

	"github.com/jeranaias/parley/internal/instance"
)

// overrideKeys are the user-settable environment knobs passed through to
// the child when non-empty.
var overrideKeys = []string{
	"HSA_OVERRIDE_GFX_VERSION",
	"CUDA_VISIBLE_DEVICES",
	"ROCR_VISIBLE_DEVICES",
	"HIP_VISIBLE_DEVICES",
	"OLLAMA_VULKAN",
}

// ComposeEnv builds the child environment: the parent process env, the
// instance's overrides, and the mandatory serving variables. Keys with
// empty values are stripped so the child sees them as unset.
func ComposeEnv(inst *instance.Instance) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}

	for _, key := range overrideKeys {
		if v, ok := inst.Env[key]; ok {
			merged[key] = v
		}
	}

	merged["OLLAMA_HOST"] = hostFromURL(inst.BaseURL)
	merged["OLLAMA_MODELS"] = inst.ModelDir
	if inst.Expose {
		merged["OLLAMA_ORIGINS"] = "*"
	} else {
		merged["OLLAMA_ORIGINS"] = ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if merged[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// hostFromURL strips the scheme so OLLAMA_HOST gets the host:port form
// the server expects.
func hostFromURL(base string) string {
	host := strings.TrimPrefix(base, "http://")
	host = strings.TrimPrefix(host, "https://")
	return strings.TrimSuffix(host, "/")
}
