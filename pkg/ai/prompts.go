package ai

// AnalysisSystemPrompt is sent as the system message of every session analysis request.
const AnalysisSystemPrompt = `You are a careful therapy and coaching session analyst. You extract structured elements from session transcripts and answer with a single JSON object only.`

// AnalysisPrompt is filled with the per-kind instructions, the suggested
// topics, the output example, the output schema and finally the transcript.
const AnalysisPrompt = `
# Task Context
You analyze the transcript of a therapy or coaching session. Extract the key elements that represent significant moments, patterns or shifts for the client.

# Elements to Extract
%s
# Topics
Every element lists the topics it relates to. Prefer these topics when they fit: %s.
Use short lowercase-friendly labels. Reuse the same label for the same subject.

# Detailed Task Description & Rules
- Only extract what the transcript supports. Do not invent elements.
- Use the same short name for the same concept, e.g. "Anxiety" and not "Feeling anxious".
- Numeric fields must stay within the documented range.
- Omit a section entirely or return an empty array when nothing was found.
- "timestamp" is the position in the session as MM:SS when the transcript carries time marks.

# Output Formatting
Return exactly one JSON object and nothing else: no markdown fences, no commentary.
Example:
%s

The object must conform to this JSON schema:
%s

# Transcript
%s`

// AnalysisKindSection describes one element kind inside AnalysisPrompt.
const AnalysisKindSection = `## %s (key "%s")
%s
Fields:
%s`
