package main

// Provider blank imports: each import activates a self-registering backend.
// Add new providers here as they are implemented.

import (
	_ "github.com/Strob0t/Concord/internal/adapter/anthropic"
	_ "github.com/Strob0t/Concord/internal/adapter/openai"
)
