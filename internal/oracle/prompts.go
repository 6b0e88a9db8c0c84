package oracle

import (
	"fmt"
	"strings"

	"github.com/dshills/lens/internal/source"
)

const reviewerSystem = `You are a strict, expert PHP code reviewer for a Yii application backed by MongoDB.

Rules:
1. Only analyze and comment on the changed lines. Use the rest of the code as context.
2. Focus on real bugs, security issues, tenant isolation, input validation, persistence safety and logic errors.
3. Be concise and actionable. Reference line numbers.
4. If the review is clean, say so in one sentence.`

const clarifyRule = `If, and only if, you cannot judge a risk without information only the author can provide, end your review with exactly one line of the form:
QUESTION: <your question>`

const finalRule = `Do not ask any further questions. Give your final review now.`

const analysisSystem = `You are a static analysis engine for PHP code.`

func typesPrompt(exprs []string, body, related, fullText string) string {
	var b strings.Builder
	b.WriteString("Infer the most likely type of each expression used in the function below.\n\n")
	b.WriteString("Expressions:\n")
	for _, e := range exprs {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	fmt.Fprintf(&b, "\nFunction:\n%s\n", body)
	if related != "" {
		fmt.Fprintf(&b, "\nRelated context:\n%s\n", related)
	}
	fmt.Fprintf(&b, "\nFull file:\n%s\n", fullText)
	fmt.Fprintf(&b, `
Respond with ONLY a JSON object mapping each expression to one of:
%s, %s, %s, %s, %s, object, class:<ClassName>, %s, %s.
Example: {"$id": "int", "$params['name']": "string"}`,
		source.TypeInt, source.TypeString, source.TypeFloat, source.TypeBool, source.TypeArray, source.TypeNull, source.TypeUnknown)
	return b.String()
}

func selectPrompt(body, related string, available []string) string {
	var b strings.Builder
	b.WriteString("You are assisting a static code analyzer.\n\n")
	b.WriteString("Based on the function and its context, select the most relevant validation categories from:\n")
	for _, name := range available {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	fmt.Fprintf(&b, "\nFunction:\n%s\n", body)
	if related != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", related)
	}
	b.WriteString("\nReturn a comma-separated list of only the relevant names. Return none if no category applies. Do not include any explanation.")
	return b.String()
}

func checkPrompt(in CheckInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are reviewing changed lines in a PHP function (%s check).\n\n", in.Validator)
	fmt.Fprintf(&b, "Changed lines:\n%s\n", in.Changed)
	fmt.Fprintf(&b, "Function:\n%s\n\n", in.Body)
	if in.Context != "" {
		fmt.Fprintf(&b, "Related context:\n%s\n\n", in.Context)
	}
	fmt.Fprintf(&b, "Full file:\n%s\n\n", in.FullText)
	b.WriteString("Focus only on the changed lines.\n\n")
	b.WriteString(strings.TrimSpace(in.Instructions))
	b.WriteString("\n\nOnly return issues caused by these changes. Respond with exactly \"None\" if there are no new risks.")
	return b.String()
}

func draftPrompt(in DraftInput) string {
	u := in.Unit
	var b strings.Builder
	fmt.Fprintf(&b, "Function: %s\nFile: %s (lines %d-%d)\n\n", u.Name, u.File, u.Start, u.End)
	fmt.Fprintf(&b, "Function body:\n%s\n\n", u.Body)
	fmt.Fprintf(&b, "Changed lines:\n%s\n", u.ChangedText())
	section := func(title, text string) {
		if strings.TrimSpace(text) == "" {
			text = "(none)"
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", title, strings.TrimSpace(text))
	}
	section("Related context", in.Context)
	section("Odd parameter types", in.OddParams)
	section("Inferred types", in.Types)
	section("Validator findings", in.Findings)
	b.WriteString("Tasks:\n")
	b.WriteString("1. Is this function validating input properly?\n")
	b.WriteString("2. Are MongoDB queries tenant-scoped, safe and performant?\n")
	b.WriteString("3. Are there any logic or security issues in the changed lines?\n")
	return b.String()
}

func summarizePrompt(label, text string) string {
	return fmt.Sprintf(`Summarize the following PHP %s for a code reviewer.
Keep class and method signatures, properties, validation rules, tenant scoping and persistence behavior. Drop everything else. Use at most 300 words.

%s`, label, text)
}
