package extract

// extractionPrompt asks a vision-capable model to turn a page image into
// structured HTML. Tables only for truly tabular content; form-like label
// and value pairs become div rows; everything else is plain flowing markup.
const extractionPrompt = `Analyze this document page and convert it to properly formatted HTML with intelligent structure detection.

Requirements:
1. Identify whether content is tabular, form-like, or regular flowing text.
2. Use <table class="data-table"> ONLY for truly tabular content with clear columns and rows.
3. For form-like content (label: value pairs) use:
   <div class="form-row"><div class="label">Label:</div><div class="value">Value</div></div>
   inside a <div class="form-section">, without visible borders.
4. For regular paragraphs use simple <p> tags with no table structure.
5. Use <h1> through <h6> for hierarchical headings and semantic elements
   (<article>, <section>, <header>) where appropriate.
6. Use the class 'text-content' for regular flowing text and 'index' for
   outline numbers such as "1.2.3".
7. Preserve the reading order and all visible text exactly.

Return only valid HTML with no explanations, no markdown fences, and no commentary.`
