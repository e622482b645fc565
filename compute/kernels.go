package compute

// Kernel names shared by every backend
const (
	KernelClear               = "clear"
	KernelStencilStep         = "stencilStep"
	KernelRmsAccumulate       = "rmsAccumulate"
	KernelRmsFinalize         = "rmsFinalize"
	KernelRasterizeRect       = "rasterizeRect"
	KernelRasterizeBox        = "rasterizeBox"
	KernelRasterizeEllipse    = "rasterizeEllipse"
	KernelRasterizeEllipsoid  = "rasterizeEllipsoid"
	KernelRasterizeCylinder   = "rasterizeCylinder"
	KernelCountTaggedPerLine  = "countTaggedPerLine"
	KernelHorizontalPrefixSum = "horizontalPrefixSum"
	KernelVerticalPrefixSum   = "verticalPrefixSum"
	KernelCollectTagged       = "collectTagged"
	KernelClearTagBits        = "clearTagBits"
	KernelDriveWrite          = "driveWrite"
	KernelScanGather          = "scanGather"
)

// KernelNames lists every kernel a backend must provide
var KernelNames = []string{
	KernelClear,
	KernelStencilStep,
	KernelRmsAccumulate,
	KernelRmsFinalize,
	KernelRasterizeRect,
	KernelRasterizeBox,
	KernelRasterizeEllipse,
	KernelRasterizeEllipsoid,
	KernelRasterizeCylinder,
	KernelCountTaggedPerLine,
	KernelHorizontalPrefixSum,
	KernelVerticalPrefixSum,
	KernelCollectTagged,
	KernelClearTagBits,
	KernelDriveWrite,
	KernelScanGather,
}

// TagBit marks a material voxel as a transducer element awaiting collection
const TagBit uint8 = 0x80

// MaterialSlots is the fixed size of the per-material lookup tables
const MaterialSlots = 256
