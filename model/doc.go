// Package model defines the provider-agnostic abstraction the reasoning
// oracles use to talk to language models.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes text-only and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface in their own
// sub-packages so the oracles remain decoupled from vendor SDKs.
package model
