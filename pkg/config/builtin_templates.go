package config

// Built-in prompt template bodies. {name} markers are substituted at
// render time; {{ and }} produce literal braces, so the JSON examples
// below double every brace.

const decompositionBody = `# Deep Thinking: Systematic Problem Decomposition

You are a systems-thinking expert who breaks complex problems into manageable parts. Decompose the following problem:

**Main question**: {topic}
**Complexity**: {complexity}
**Focus**: {focus}
**Domain context**: {domain_context}

## Decomposition requirements

1. Every sub-question must be specific, unambiguous, and analyzable on its own.
2. Sub-questions should overlap as little as possible.
3. Together the sub-questions must cover the core aspects of the main question.
4. Mark dependencies and priorities between sub-questions.
5. Give precise search keywords and the expected analysis angle for each sub-question.

For a moderate-complexity question produce 4-6 sub-questions; for a simple one 3-5 are enough.

## Output format

Reply with a single JSON object:

` + "```json" + `
{{
  "main_question": "restatement of the main question",
  "decomposition_strategy": "name of the strategy used",
  "sub_questions": [
    {{
      "id": "SQ1",
      "question": "the sub-question",
      "priority": "high/medium/low",
      "search_keywords": ["keyword1", "keyword2"],
      "expected_perspectives": ["perspective1", "perspective2"]
    }}
  ],
  "coverage_analysis": "why this set of sub-questions is complete"
}}
` + "```"

const decompositionHighBody = `# Deep Thinking: Systematic Problem Decomposition (High Complexity)

You are a systems-thinking expert. The following problem is highly complex and needs a multi-dimensional decomposition:

**Main question**: {topic}
**Complexity**: {complexity}
**Focus**: {focus}
**Domain context**: {domain_context}

## Decomposition dimensions

Combine at least three of these views:

1. **System levels**: macro, meso, and micro layers of the problem.
2. **Time**: short-, medium-, and long-term phases.
3. **Stakeholders**: every party with a material interest.
4. **Causal chain**: root causes, intermediate factors, end results.
5. **Cross-domain**: technical, economic, social, and environmental angles.
6. **Risk**: uncertainties, boundary conditions, and failure modes.

Produce 5-7 deep sub-questions that cover the whole problem space, each specific, independently analyzable, and tagged with priority, search keywords, and expected perspectives.

## Output format

Reply with a single JSON object:

` + "```json" + `
{{
  "main_question": "restatement of the main question",
  "decomposition_strategy": "system-level decomposition",
  "sub_questions": [
    {{
      "id": "SQ1",
      "question": "the sub-question",
      "priority": "high/medium/low",
      "search_keywords": ["keyword1", "keyword2"],
      "expected_perspectives": ["perspective1", "perspective2"]
    }}
  ],
  "relationships": "dependencies and ordering between sub-questions",
  "coverage_analysis": "why this set of sub-questions is complete"
}}
` + "```"

const evidenceCollectionBody = `# Deep Thinking: Evidence Collection

Collect comprehensive, reliable evidence for the following sub-question ({item_index} of {item_total} for the topic "{topic}"):

**Sub-question**: {item}

## Search strategy

Draw on diverse source types:

- **Academic**: peer-reviewed papers, research reports, conference proceedings.
- **Institutional**: government reports, official statistics, industry standards.
- **Journalistic**: investigative reporting, case studies, in-depth features.
- **Expert**: practitioner interviews, professional commentary, talks.

## Quality requirements

- Prefer peer-reviewed or officially published information.
- Note publication dates; prefer current data but keep historical data for comparison.
- Seek geographic, ideological, and disciplinary diversity of sources.
- Record contradicting evidence as carefully as supporting evidence.

Summarize what you found, cite each source, rate its reliability, and state what the evidence implies for the sub-question.`

const multiPerspectiveBody = `# Deep Thinking: Multi-Perspective Debate

Stage a structured debate about:

**Topic**: {topic}
**Focus**: {focus}

Argue three positions in turn, each grounded in the evidence collected so far:

1. **Pro**: the strongest honest case in favor.
2. **Con**: the strongest honest case against.
3. **Neutral**: the synthesis a disinterested referee would reach.

For each position give its key claims, supporting evidence, and the weakest point an opponent would attack. Finish with the referee's assessment of where the balance of evidence lies and which disagreements are factual versus value-driven.`

const criticalEvaluationBody = `# Deep Thinking: Critical Evaluation

Evaluate the analysis of "{topic}" produced so far.

{content}

Apply the Paul-Elder critical thinking standards:

- **Accuracy**: are the factual claims true and verifiable?
- **Clarity**: is the reasoning understandable and unambiguous?
- **Relevance**: does every part bear on the main question?
- **Depth**: are the complexities engaged rather than glossed over?
- **Breadth**: are alternative viewpoints considered?
- **Logic**: do the conclusions follow from the evidence?
- **Significance**: is the most important information prioritized?
- **Fairness**: is the treatment free of one-sidedness?

Score each standard from 0.0 to 1.0, justify each score in one or two sentences, and finish with an overall quality score (0.0-1.0) and the three most valuable concrete improvements.`

const biasDetectionBody = `# Deep Thinking: Bias Detection

Screen the analysis of "{topic}" for cognitive biases.

{content}

Check at minimum for:

- **Confirmation bias**: was disconfirming evidence sought and weighed?
- **Anchoring**: do early framings dominate later reasoning?
- **Availability**: are vivid examples crowding out base rates?
- **Survivorship**: are failures as visible as successes in the evidence?
- **Authority**: are claims accepted on prestige rather than merit?
- **Framing**: would restating the question change the conclusion?

For each bias found, quote the affected passage, name the bias, rate its severity (low/medium/high), and propose a correction. If a bias is checked and absent, say so briefly.`

const innovationBody = `# Deep Thinking: Innovation

Generate genuinely novel angles on:

**Topic**: {topic}
**Focus**: {focus}

Work through SCAMPER:

- **Substitute**: what assumptions or components could be replaced?
- **Combine**: what ideas from other fields merge productively here?
- **Adapt**: what analogous solved problems can be borrowed from?
- **Modify**: what happens when key parameters are exaggerated or minimized?
- **Put to other uses**: what would this solution enable elsewhere?
- **Eliminate**: what can be removed entirely?
- **Reverse**: what does the inverted problem look like?

Keep only the ideas that survive a feasibility sanity check, and for each survivor state what evidence would confirm or kill it.`

const reflectionBody = `# Deep Thinking: Reflection

Reflect on the complete thinking process for:

**Topic**: {topic}
**Focus**: {focus}

Address in order:

1. **Process**: which steps contributed most, and where did the process struggle?
2. **Confidence**: which conclusions are firm, which are provisional, and why?
3. **Blind spots**: what would a well-informed critic say was missed?
4. **Synthesis**: state the final, integrated answer to the main question in a form a decision-maker could act on.

End with the single most important open question that further work should target.`

const completionSummaryBody = `# Deep Thinking: Final Report

Produce the final report for the completed thinking session on:

**Topic**: {topic}

**Final insights provided**: {final_insights}

**Step history**:
{step_history}

Structure the report as:

1. **Answer**: the direct answer to the main question.
2. **Reasoning trail**: how the steps above led to it.
3. **Evidence base**: the strongest supporting and contradicting evidence.
4. **Confidence and caveats**: what is firm, what is provisional.
5. **Recommended next actions**.`

const analysisQualityBody = `# Step Analysis: Quality

Assess the quality of the output below from step "{step_name}".

---
{step_result}
---

Rate accuracy, depth, relevance, and logical coherence from 0.0 to 1.0 each, justify each rating in a sentence, and reply with a JSON object:

` + "```json" + `
{{
  "quality_score": 0.0,
  "dimension_scores": {{"accuracy": 0.0, "depth": 0.0, "relevance": 0.0, "logic": 0.0}},
  "feedback": "one-paragraph assessment",
  "improvement_areas": ["specific improvement 1", "specific improvement 2"]
}}
` + "```" + `

quality_score is the overall score in [0,1].`

const analysisFormatBody = `# Step Analysis: Format

Check whether the output below from step "{step_name}" follows its required output format (structure, JSON validity where demanded, required fields present).

---
{step_result}
---

Reply with a JSON object:

` + "```json" + `
{{
  "quality_score": 0.0,
  "format_valid": true,
  "violations": ["each deviation from the required format"],
  "feedback": "how to fix the format"
}}
` + "```"

const analysisCompletenessBody = `# Step Analysis: Completeness

Judge whether the output below from step "{step_name}" fully covers what the step asked for, or leaves aspects unaddressed.

---
{step_result}
---

Reply with a JSON object:

` + "```json" + `
{{
  "quality_score": 0.0,
  "covered": ["aspect addressed"],
  "missing": ["aspect not addressed"],
  "feedback": "what to add for full coverage"
}}
` + "```"

const analysisBiasBody = `# Step Analysis: Bias

Screen the output below from step "{step_name}" for cognitive biases (confirmation, anchoring, availability, framing, authority).

---
{step_result}
---

Reply with a JSON object:

` + "```json" + `
{{
  "quality_score": 0.0,
  "biases": [{{"name": "bias name", "severity": "low/medium/high", "evidence": "affected passage"}}],
  "feedback": "corrections to apply"
}}
` + "```"

const analysisLogicBody = `# Step Analysis: Logic

Check the logical validity of the output below from step "{step_name}": do the conclusions follow from the premises, and are there fallacies or unsupported leaps?

---
{step_result}
---

Reply with a JSON object:

` + "```json" + `
{{
  "quality_score": 0.0,
  "fallacies": [{{"name": "fallacy", "passage": "where it occurs"}}],
  "feedback": "how to repair the argument"
}}
` + "```"
