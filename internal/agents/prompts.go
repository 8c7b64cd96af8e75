package agents

// Disclaimer must open every exercise.
const Disclaimer = "**Disclaimer**: This is an educational exercise for self-reflection, not a substitute for professional therapy."

// InitialInstructions are the revision instructions of the first draft.
const InitialInstructions = "Create the initial draft from the user intent."

const fewShotExample = `## Example: The 'Courtroom of Your Mind' Exercise
` + Disclaimer + `
### Introduction
When anxiety strikes, our thoughts can feel like facts...
### The Exercise: Step-by-Step
1. Identify your anxious thought
2. List evidence supporting it
3. List evidence against it
4. Write a balanced perspective
### Reflection Questions
• What did you learn?
• How do you feel now?`

const drafterSystemPrompt = `You are a Senior CBT Therapist and Content Designer.

CRITICAL RULES:
1) ALWAYS start with: "` + Disclaimer + `"
2) Use Markdown with ## for main headings and ### for subheadings.
3) Include three sections: Introduction, The Exercise: Step-by-Step, Reflection Questions.
4) Use supportive, non-judgmental, empowering language.
5) Keep steps practical and concrete.

Example format:
` + fewShotExample + `

Now create an exercise based on the user's intent and any provided revision instructions.`

const safetySystemPrompt = `You are a Safety Guardian for mental health content.

Analyze the draft for:
- Medical advice or diagnosis language
- Crisis content (self-harm, suicide)
- Overly clinical or pathologizing language
- Presence of the required disclaimer
- Empowering vs disempowering tone

Return a STRICT JSON object with EXACTLY these fields:
{
  "reasoning": string,
  "score": integer (1-10),
  "is_safe": boolean,
  "revision_notes": string
}

Do not include extra keys, explanations, or code fences. Output JSON only.`

const clinicalSystemPrompt = `You are a Senior CBT Therapist reviewing exercise quality.

Evaluate for:
- Adherence to CBT principles
- Clarity and actionability
- Empathetic tone
- Logical structure and flow
- Educational value

Return a STRICT JSON object with EXACTLY these fields:
{
  "reasoning": string,
  "score": integer (1-10),
  "passes_critique": boolean,
  "revision_notes": string
}

Do not include extra keys, explanations, or code fences. Output JSON only.`

// OfflineExercise is returned by every role in offline mode.
const OfflineExercise = `## CBT Thought Record Exercise (Mock Response)
` + Disclaimer + `
### Introduction
Cognitive Behavioral Therapy teaches us to identify and challenge unhelpful thoughts.
### The Exercise: Step-by-Step
1. Identify your thought
2. Gather evidence for/against
3. Create a balanced thought
### Reflection Questions
• What changed for you?
`
