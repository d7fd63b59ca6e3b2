package planner

const specPrompt = `Restate the task below as a precise specification.

Task:
%s

Return ONLY a JSON object with this exact structure (no other text):
{"goal": "one sentence goal", "constraints": ["..."], "successCriteria": ["..."]}`

const classifyPrompt = `Estimate the complexity of the task below on a scale from 0.0 (trivial,
one obvious step) to 1.0 (many interdependent steps, ambiguous requirements).

Task:
%s

Return ONLY a JSON object: {"complexity": 0.0}`

const planPrompt = `Plan the task below as an ordered list of tool invocations.

Goal: %s
Constraints: %s
Success criteria: %s

Available tools:
%s
Rules:
- Use only the tools listed above, with arguments matching their schemas.
- A step with an empty "toolName" is a reasoning step answered in the final summary.
- Add a "verify" block only when the output can be checked mechanically:
  {"type": "output_check", "assertion": "substring or regex", "retryOnFail": true, "maxRetries": 2}

Return ONLY a JSON object with this exact structure (no other text):
{"steps": [{"description": "...", "toolName": "...", "toolArgs": {}, "verify": {"type": "none"}}]}`

const critiquePrompt = `Critique the plan below for the goal "%s".
Score your confidence that the plan as a whole, and each step, will succeed.

Plan:
%s

Return ONLY a JSON object with this exact structure (no other text):
{"overall": 0.0, "stepConfidences": [0.0], "issues": ["..."]}
All scores are between 0.0 and 1.0. Provide one step confidence per step.`

const replanPrompt = `A step of the plan for the goal "%s" failed.

Failed step (index %d): %s
Tool: %s
Error: %s

Steps completed so far:
%s
Available tools:
%s
Produce a short recovery plan that replaces the failed step and achieves what it was for.

Return ONLY a JSON object with this exact structure (no other text):
{"steps": [{"description": "...", "toolName": "...", "toolArgs": {}}]}`

const synthesizePrompt = `Write the final answer to the task below from the results of the steps that ran.
Be direct. Mention any step that failed if it affects the answer.

Task:
%s

Step results:
%s`

const decomposePrompt = `Break the compound task below into sub-tasks that can each be completed on their own.

Task:
%s

Return ONLY a JSON object with this exact structure (no other text):
{
  "subTasks": [
    {"description": "self-contained sub-task", "dependsOn": ["0"], "budgetShare": 0.5}
  ],
  "strategy": "sequential|parallel",
  "aggregation": "how to combine the sub-task results"
}

Rules:
- dependsOn lists the 0-based positions of earlier sub-tasks this one needs.
- budgetShare is the fraction of the budget the sub-task should get; shares should sum to 1.0.
- Use "parallel" only when independent sub-tasks can run at the same time.`

const systemPrompt = `You are the planning component of a task execution runtime. Follow the
requested output format exactly.`
