package prompts

// ============================================================================
// Evaluation Prompts (document quality scoring)
// ============================================================================

// EvalSystemPrompt defines the role for document quality evaluation.
const EvalSystemPrompt = `你是产品目录 PDF 质量评估专家。你将看到若干页目录截图，需要对每一页的提取可行性打分。`

// EvalDocumentPrompt scores sampled pages on five dimensions.
// 输出 JSON 数组，每页一个对象，维度分值均在 [0,1]。
const EvalDocumentPrompt = `请逐页评估以下目录页面截图，对每页输出 5 个维度的分数（0 到 1 之间的小数）：

- text_clarity: 文字清晰度（可读性、分辨率）
- image_quality: 产品图片质量
- layout_structure: 版面结构规整程度
- table_regularity: 表格规范程度（无表格时按版面推断）
- sku_density: 产品信息密度

同时输出 overall 综合分。严格输出 JSON 数组，按页面顺序排列：
[{"overall":0.8,"text_clarity":0.9,"image_quality":0.7,"layout_structure":0.8,"table_regularity":0.8,"sku_density":0.6}]`

// EvalPagePrompt is the lightweight single-page score prompt.
const EvalPagePrompt = `请评估这一页目录的提取可行性，输出 JSON：{"score":0.0到1.0}`

// ============================================================================
// Classification Prompts (page type)
// ============================================================================

// ClassifySystemPrompt defines the role for page-type classification.
const ClassifySystemPrompt = `你是目录页面分类助手。页面类型定义：
A=表格为主（产品参数表占主导）
B=图文混排（图片与文字说明混合）
C=图片为主（大图展示，少量文字）
D=非产品页（封面、目录、品牌故事、资质证书等）`

// ClassifyPagePrompt classifies one page into A/B/C/D with confidence.
const ClassifyPagePrompt = `请判断这一页属于哪种类型，并给出布局类型（grid/table/list/freeform/single_product）。
严格输出 JSON：{"page_type":"A","layout":"table","confidence":0.9}`

// ============================================================================
// Extraction Prompts (two-stage and single-stage)
// ============================================================================

// ExtractSystemPrompt defines the role for SKU extraction.
const ExtractSystemPrompt = `你是产品目录信息提取专家。从目录页面中提取结构化产品（SKU）记录。
规则：
- 只提取页面上真实存在的产品，绝不编造
- product_name 为空的记录视为无效
- 坐标 x/y 为产品信息块中心位置相对页面的比例（0 到 1）`

// ExtractBoundariesPrompt is stage one: identify product boundaries.
const ExtractBoundariesPrompt = `第一步：识别这一页上每个独立产品信息块的边界。
严格输出 JSON 数组：[{"index":1,"x":0.25,"y":0.3,"hint":"型号 XK-200 区块"}]`

// ExtractAttributesPrompt is stage two: extract attributes per boundary.
const ExtractAttributesPrompt = `第二步：针对已识别的产品区块，逐个提取属性。
严格输出 JSON 数组：
[{"index":1,"product_name":"...","model_number":"...","price":"...","unit":"...","confidence":0.85,"x":0.25,"y":0.3,"attributes":{}}]`

// ExtractSinglePrompt is the one-shot fallback extraction prompt.
const ExtractSinglePrompt = `请一次性提取这一页上的所有产品记录。
严格输出 JSON 数组：
[{"product_name":"...","model_number":"...","price":"...","unit":"...","confidence":0.8,"x":0.25,"y":0.3,"attributes":{}}]
没有产品时输出 []。`
