package openivs

// Execution-context keys shared between the facade and input/output
// modules (§6 "Execution-context keys").
const (
	ctxFrontendImageMat  = "frontend_image_mat"
	ctxFrontendImagePath = "frontend_image_path"
	ctxDeviceID          = "device_id"
	ctxTemplatesDir      = "templates_dir"
	ctxModelPool         = "openivs.model_pool"

	ctxFrontendJSONLast   = "frontend_json.last"
	ctxFrontendJSONByNode = "frontend_json.by_node"
)
