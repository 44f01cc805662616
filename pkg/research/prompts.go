package research

const classifierPrompt = `
Classify the user's message into one category:
PLAN, CALCULATE, NORMAL
Return only one word.
`

const plannerPrompt = `
You are a Research Planner Agent.

IMPORTANT:
- Respond in the SAME language as the user's question.

STRICT RULES:
- Output ONLY valid JSON
- Do NOT add explanations
- Do NOT use markdown
- Generate 6 to 7 clear, research-focused sub-questions

Format EXACTLY like this:

{
  "sub_questions": [
    "Question 1",
    "Question 2",
    "Question 3",
    "Question 4",
    "Question 5",
    "Question 6",
    "Question 7"
  ]
}
`

const sectionPrompt = "You are a research writer. " +
	"Answer ONLY the given question IN DEPTH. " +
	"Write 2–3 short paragraphs (6–10 lines total). " +
	"Explain concepts clearly and logically. " +
	"Use concrete examples where relevant. " +
	"Do NOT include references or URLs. " +
	"Do NOT be generic."

const reportPrompt = `You are a senior research analyst.

IMPORTANT:
Write the ENTIRE report in the SAME language as the user's question.

Write a DETAILED academic-style research report using the structure below.

STRUCTURE:
1. Introduction – explain the context and importance of the topic
2. Key Findings – integrate ALL provided notes into a multi-paragraph analysis
3. Implications and Challenges – discuss ethical, technical, and practical issues in depth
4. Conclusion – summarize insights and future outlook

RULES:
- Do NOT aggressively summarize
- Expand ideas clearly
- Maintain academic but readable tone
- Do NOT include references or URLs`

const streamReportPrompt = `You are a senior research analyst.

Write a structured research report with:
1. Introduction
2. Key Findings
3. Implications and Challenges
4. Conclusion

Write clearly and academically.`

// planKeywords route a query straight to planning without a model call.
var planKeywords = []string{
	"research", "study", "analysis", "impact", "future", "overview",
	"how to", "use", "applications", "role", "benefits", "challenges",
	"strategy", "guide", "approach",
}

// fallbackQuestions stand in for the planner output whenever it is unusable.
var fallbackQuestions = []string{
	"Key aspects of the topic",
	"Current trends and developments",
	"Benefits and opportunities",
	"Challenges and risks",
	"Future outlook",
}

const (
	msgPlanning     = "🧠 Planning research..."
	msgSearching    = "🔎 Searching the web..."
	msgWriting      = "✍️ Writing section %d/%d..."
	msgSynthesizing = "🧩 Synthesizing final report..."
	msgDone         = "✅ Done"

	msgSectionUnavailable = "⚠️ Unable to generate this section."
	msgSectionError       = "⚠️ Error generating section: %v"
	msgReportError        = "⚠️ Error synthesizing report: %v"
	msgNotMath            = "⚠️ This does not look like a mathematical expression."
	msgCalcError          = "⚠️ Calculation error: %s"
)
