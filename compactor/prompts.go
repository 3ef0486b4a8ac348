package compactor

import (
	"strings"

	"devdocs-chat/models"
)

// BasePrompt is the fixed instruction set sent with every turn
const BasePrompt = `You are DevDocs AI, an intelligent documentation assistant designed to help developers understand, document, and work with code across multiple programming languages.

Your capabilities include:
- Explaining code in clear, concise language
- Generating comprehensive documentation
- Answering questions about programming concepts
- Providing code examples and best practices
- Identifying potential issues and improvements

Always be:
- Accurate and precise
- Helpful and educational
- Context-aware of the conversation history
- Respectful of different skill levels`

var languagePrompts = map[string]string{
	"python": `You are working with Python code. Focus on:
- Pythonic best practices (PEP 8)
- Type hints and modern Python features
- Common libraries and frameworks
- Python-specific patterns and idioms`,

	"javascript": `You are working with JavaScript/TypeScript code. Focus on:
- Modern ES6+ features
- TypeScript types and interfaces
- Common frameworks (React, Next.js, Vue, etc.)
- Node.js and browser APIs
- Best practices for async/await and promises`,

	"typescript": `You are working with TypeScript code. Focus on:
- Strong typing and type safety
- Interfaces, types, and generics
- TypeScript-specific patterns
- Integration with JavaScript frameworks
- Compiler options and configuration`,

	"java": `You are working with Java code. Focus on:
- Object-oriented principles
- Java best practices and conventions
- Common frameworks (Spring, Hibernate, etc.)
- JVM and memory management
- Modern Java features (streams, lambdas, etc.)`,

	"go": `You are working with Go code. Focus on:
- Go idioms and conventions
- Concurrency patterns (goroutines, channels)
- Error handling
- Package structure
- Go-specific best practices`,

	"rust": `You are working with Rust code. Focus on:
- Ownership and borrowing
- Memory safety
- Rust idioms and patterns
- Error handling with Result and Option
- Performance optimization`,

	"cpp": `You are working with C++ code. Focus on:
- Modern C++ features (C++11/14/17/20)
- Memory management
- STL and standard library
- Templates and metaprogramming
- Best practices for performance`,

	"c": `You are working with C code. Focus on:
- Memory management and pointers
- C standard library
- Low-level programming concepts
- Performance considerations
- Portability and standards compliance`,
}

var languageAliases = map[string]string{
	"py":     "python",
	"js":     "javascript",
	"jsx":    "javascript",
	"node":   "javascript",
	"ts":     "typescript",
	"tsx":    "typescript",
	"golang": "go",
	"rs":     "rust",
	"c++":    "cpp",
	"cxx":    "cpp",
}

// Language normalizes a client language hint. ok is false for hints with no
// specialization, which callers ignore.
func Language(hint string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(hint))
	if alias, found := languageAliases[key]; found {
		key = alias
	}
	if _, found := languagePrompts[key]; !found {
		return "", false
	}
	return key, true
}

// Prompt is what the relay submits: a system instruction plus the
// submission set in order.
type Prompt struct {
	System   string
	Messages []models.Message
}

// SystemPrompt returns the base prompt with the specialization block for
// hint appended when the hint is recognized.
func SystemPrompt(hint string) string {
	lang, ok := Language(hint)
	if !ok {
		return BasePrompt
	}
	return BasePrompt + "\n\n" + languagePrompts[lang]
}

// BuildPrompt combines the system prompt for hint with the submission set.
// Unknown hints fall back to the base prompt silently.
func BuildPrompt(hint string, set models.SubmissionSet) Prompt {
	return Prompt{
		System:   SystemPrompt(hint),
		Messages: set.All(),
	}
}
