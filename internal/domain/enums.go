package domain

// JobInternalStatus is the internal lifecycle status of a processing job.
// Twelve values; the user-facing status is always derived from this field
// via ComputeUserStatus and never stored independently.
type JobInternalStatus string

const (
	JobUploaded        JobInternalStatus = "UPLOADED"
	JobEvaluating      JobInternalStatus = "EVALUATING"
	JobEvalFailed      JobInternalStatus = "EVAL_FAILED"
	JobEvaluated       JobInternalStatus = "EVALUATED"
	JobProcessing      JobInternalStatus = "PROCESSING"
	JobPartialFailed   JobInternalStatus = "PARTIAL_FAILED"
	JobPartialImported JobInternalStatus = "PARTIAL_IMPORTED"
	JobDegradedHuman   JobInternalStatus = "DEGRADED_HUMAN"
	JobFullImported    JobInternalStatus = "FULL_IMPORTED"
	JobRejected        JobInternalStatus = "REJECTED"
	JobOrphaned        JobInternalStatus = "ORPHANED"
	JobCancelled       JobInternalStatus = "CANCELLED"
)

// JobUserStatus is the five-value status surfaced to end users.
type JobUserStatus string

const (
	UserProcessing     JobUserStatus = "processing"
	UserPartialSuccess JobUserStatus = "partial_success"
	UserCompleted      JobUserStatus = "completed"
	UserNeedsManual    JobUserStatus = "needs_manual"
	UserFailed         JobUserStatus = "failed"
)

// userStatusMap maps every internal status to exactly one user status.
var userStatusMap = map[JobInternalStatus]JobUserStatus{
	JobUploaded:        UserProcessing,
	JobEvaluating:      UserProcessing,
	JobEvalFailed:      UserFailed,
	JobEvaluated:       UserProcessing,
	JobProcessing:      UserProcessing,
	JobPartialFailed:   UserPartialSuccess,
	JobPartialImported: UserPartialSuccess,
	JobDegradedHuman:   UserNeedsManual,
	JobFullImported:    UserCompleted,
	JobRejected:        UserFailed,
	JobOrphaned:        UserFailed,
	JobCancelled:       UserFailed,
}

// ComputeUserStatus derives the user-facing status from the internal status.
// Parameters:
//   - internal: internal job status.
// Returns:
//   - JobUserStatus: mapped user status; unknown values map to UserProcessing.
func ComputeUserStatus(internal JobInternalStatus) JobUserStatus {
	if us, ok := userStatusMap[internal]; ok {
		return us
	}
	return UserProcessing
}

// actionHintMap maps each user status to a short next-step hint.
var actionHintMap = map[JobUserStatus]string{
	UserProcessing:     "document is being processed, check back shortly",
	UserPartialSuccess: "some pages finished, extracted SKUs are available",
	UserCompleted:      "all SKUs extracted, ready to confirm import",
	UserNeedsManual:    "manual review required, see the annotation queue",
	UserFailed:         "processing failed, check the file and re-upload",
}

// ActionHint returns the user-facing next-step hint for a user status.
func ActionHint(us JobUserStatus) string {
	return actionHintMap[us]
}

// PageStatus is the per-attempt lifecycle status of one page.
type PageStatus string

const (
	PagePending           PageStatus = "PENDING"
	PageBlank             PageStatus = "BLANK"
	PageAIQueued          PageStatus = "AI_QUEUED"
	PageAIProcessing      PageStatus = "AI_PROCESSING"
	PageAICompleted       PageStatus = "AI_COMPLETED"
	PageAIFailed          PageStatus = "AI_FAILED"
	PageHumanQueued       PageStatus = "HUMAN_QUEUED"
	PageHumanProcessing   PageStatus = "HUMAN_PROCESSING"
	PageHumanCompleted    PageStatus = "HUMAN_COMPLETED"
	PageImportedConfirmed PageStatus = "IMPORTED_CONFIRMED"
	PageImportedAssumed   PageStatus = "IMPORTED_ASSUMED"
	PageImportFailed      PageStatus = "IMPORT_FAILED"
	PageSkipped           PageStatus = "SKIPPED"
	PageDeadLetter        PageStatus = "DEAD_LETTER"
)

// IsTerminal reports whether a page status is terminal for its attempt.
func (s PageStatus) IsTerminal() bool {
	switch s {
	case PageImportedConfirmed, PageImportedAssumed, PageSkipped, PageDeadLetter:
		return true
	}
	return false
}

// SKUStatus is the lifecycle status of an extracted SKU record.
type SKUStatus string

const (
	SKUExtracted  SKUStatus = "EXTRACTED"
	SKUValidated  SKUStatus = "VALIDATED"
	SKUConfirmed  SKUStatus = "CONFIRMED"
	SKUBound      SKUStatus = "BOUND"
	SKUExported   SKUStatus = "EXPORTED"
	SKUSuperseded SKUStatus = "SUPERSEDED"
	SKUInvalidSt  SKUStatus = "INVALID"
)

// SKUValidity is the binary validity of a SKU. No partial state exists.
type SKUValidity string

const (
	ValidityValid   SKUValidity = "valid"
	ValidityInvalid SKUValidity = "invalid"
)

// ValidityMode selects how strictly SKU validity is enforced.
type ValidityMode string

const (
	ValidityStrict  ValidityMode = "strict"
	ValidityLenient ValidityMode = "lenient"
)

// TaskStatus is the human-task state machine status.
type TaskStatus string

const (
	TaskCreated    TaskStatus = "CREATED"
	TaskAssigned   TaskStatus = "ASSIGNED"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskSkipped    TaskStatus = "SKIPPED"
	TaskEscalated  TaskStatus = "ESCALATED"
)

// TaskPriority orders the human-task queue. Claim order drains
// AUTO_RESOLVE first, then URGENT, HIGH, NORMAL.
type TaskPriority string

const (
	PriorityNormal      TaskPriority = "NORMAL"
	PriorityHigh        TaskPriority = "HIGH"
	PriorityUrgent      TaskPriority = "URGENT"
	PriorityCritical    TaskPriority = "CRITICAL"
	PriorityAutoResolve TaskPriority = "AUTO_RESOLVE"
)

// ClaimRank returns the queue drain rank for a priority (lower drains first).
func (p TaskPriority) ClaimRank() int {
	switch p {
	case PriorityAutoResolve:
		return 0
	case PriorityUrgent, PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	default:
		return 3
	}
}

// TaskType discriminates the kind of human work a task carries.
type TaskType string

const (
	TaskPageProcess          TaskType = "PAGE_PROCESS"
	TaskSKUConfirm           TaskType = "SKU_CONFIRM"
	TaskAttributeConfirm     TaskType = "ATTRIBUTE_CONFIRM"
	TaskBindingConfirm       TaskType = "BINDING_CONFIRM"
	TaskClassificationReview TaskType = "CLASSIFICATION_REVIEW"
	TaskSLAReview            TaskType = "AUTO_SLA_REVIEW"
)

// RouteDecision is the evaluator's routing verdict for a job.
type RouteDecision string

const (
	RouteAuto     RouteDecision = "AUTO"
	RouteHybrid   RouteDecision = "HYBRID"
	RouteHumanAll RouteDecision = "HUMAN_ALL"
)

// DegradeReason categorizes why a job was degraded to a safer path.
type DegradeReason string

const (
	DegradeEvalFailed      DegradeReason = "eval_failed"
	DegradePrescanReject   DegradeReason = "prescan_reject"
	DegradeLowConfidence   DegradeReason = "low_confidence"
	DegradeBudgetExhausted DegradeReason = "budget_exhausted"
	DegradeCircuitOpen     DegradeReason = "circuit_open"
)

// PageType is the four-way page classification.
// A=table-dominant, B=mixed, C=image-heavy, D=non-product.
type PageType string

const (
	PageTypeA PageType = "A"
	PageTypeB PageType = "B"
	PageTypeC PageType = "C"
	PageTypeD PageType = "D"
)

// LayoutType is the detected page layout driving binding distance thresholds.
type LayoutType string

const (
	LayoutGrid          LayoutType = "grid"
	LayoutTable         LayoutType = "table"
	LayoutList          LayoutType = "list"
	LayoutFreeform      LayoutType = "freeform"
	LayoutSingleProduct LayoutType = "single_product"
)

// ImageRole classifies an extracted image's function on the page.
type ImageRole string

const (
	RoleProductMain ImageRole = "PRODUCT_MAIN"
	RoleDetail      ImageRole = "DETAIL"
	RoleScene       ImageRole = "SCENE"
	RoleLogo        ImageRole = "LOGO"
	RoleDecoration  ImageRole = "DECORATION"
	RoleSizeChart   ImageRole = "SIZE_CHART"
)

// IsDeliverable reports whether images of this role ship with the SKU.
func (r ImageRole) IsDeliverable() bool {
	switch r {
	case RoleProductMain, RoleDetail, RoleScene, RoleSizeChart:
		return true
	}
	return false
}

// QualityGrade is the image quality triage result.
type QualityGrade string

const (
	QualityHigh       QualityGrade = "HIGH"
	QualityLow        QualityGrade = "LOW_QUALITY"
	QualityUnassessed QualityGrade = "UNASSESSED"
)

// BindingMethod records how a SKU-image binding was produced.
type BindingMethod string

const (
	BindSpatialProximity BindingMethod = "spatial_proximity"
	BindGridAlignment    BindingMethod = "grid_alignment"
	BindIDMatching       BindingMethod = "id_matching"
	BindPageInheritance  BindingMethod = "page_inheritance"
)

// AttributeSource is the provenance tag on SKU attributes.
type AttributeSource string

const (
	SourceAIExtracted     AttributeSource = "AI_EXTRACTED"
	SourceHumanCorrected  AttributeSource = "HUMAN_CORRECTED"
	SourceCrossPageMerged AttributeSource = "CROSS_PAGE_MERGED"
)

// ImportConfirmation is the downstream import acknowledgement state.
type ImportConfirmation string

const (
	ImportConfirmed ImportConfirmation = "confirmed"
	ImportAssumed   ImportConfirmation = "assumed"
	ImportFailed    ImportConfirmation = "failed"
	ImportPending   ImportConfirmation = "pending"
)

// WorkerStatus is the liveness status of a pipeline worker.
type WorkerStatus string

const (
	WorkerAlive   WorkerStatus = "ALIVE"
	WorkerSuspect WorkerStatus = "SUSPECT"
	WorkerDead    WorkerStatus = "DEAD"
)

// CompletionSource records which path produced a page's final result.
type CompletionSource string

const (
	CompletedAIOnly    CompletionSource = "AI_ONLY"
	CompletedHumanOnly CompletionSource = "HUMAN_ONLY"
	CompletedHybrid    CompletionSource = "HYBRID"
	CompletedDegraded  CompletionSource = "DEGRADED_HUMAN"
)
