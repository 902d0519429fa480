package filter

import (
	"math"

	"greenscreen-camera/gpu"
)

// Uniform and sampler names shared by the GLSL and software kernels
const (
	uniformThreshold = "thresholdSensitivity"
	uniformSmoothing = "smoothing"
	uniformColor     = "colorToReplace"

	samplerInput      = "inputImageTexture"
	samplerBackground = "inputImageTexture2"
)

const vertexShader = `#version 330 core
layout(location = 0) in vec4 position;
layout(location = 1) in vec4 inputTextureCoordinate;
layout(location = 2) in vec4 inputTextureCoordinate2;

out vec2 textureCoordinate;
out vec2 textureCoordinate2;

void main()
{
    gl_Position = position;
    textureCoordinate = inputTextureCoordinate.xy;
    textureCoordinate2 = inputTextureCoordinate2.xy;
}
`

const passthroughFragment = `#version 330 core
in vec2 textureCoordinate;

uniform sampler2D inputImageTexture;

out vec4 fragColor;

void main()
{
    fragColor = texture(inputImageTexture, textureCoordinate);
}
`

// Chroma distance is measured in the CrCb plane so luminance changes across
// the screen do not break the key.
const chromaKeyFragment = `#version 330 core
in vec2 textureCoordinate;
in vec2 textureCoordinate2;

uniform float thresholdSensitivity;
uniform float smoothing;
uniform vec3 colorToReplace;
uniform sampler2D inputImageTexture;
uniform sampler2D inputImageTexture2;

out vec4 fragColor;

void main()
{
    vec4 textureColor = texture(inputImageTexture, textureCoordinate);
    vec4 textureColor2 = texture(inputImageTexture2, textureCoordinate2);

    float maskY = 0.2989 * colorToReplace.r + 0.5866 * colorToReplace.g + 0.1145 * colorToReplace.b;
    float maskCr = 0.7132 * (colorToReplace.r - maskY);
    float maskCb = 0.5647 * (colorToReplace.b - maskY);

    float Y = 0.2989 * textureColor.r + 0.5866 * textureColor.g + 0.1145 * textureColor.b;
    float Cr = 0.7132 * (textureColor.r - Y);
    float Cb = 0.5647 * (textureColor.b - Y);

    float blendValue = 1.0 - smoothstep(thresholdSensitivity, thresholdSensitivity + smoothing, distance(vec2(Cr, Cb), vec2(maskCr, maskCb)));
    fragColor = mix(textureColor, textureColor2, blendValue);
}
`

// PassthroughSource draws the input texture unchanged
var PassthroughSource = gpu.ProgramSource{
	Name:     "passthrough",
	Vertex:   vertexShader,
	Fragment: passthroughFragment,
	Kernel:   passthroughKernel,
	Samplers: []string{samplerInput},
}

// ChromaKeySource replaces pixels near colorToReplace with the background
var ChromaKeySource = gpu.ProgramSource{
	Name:     "chroma-key",
	Vertex:   vertexShader,
	Fragment: chromaKeyFragment,
	Kernel:   chromaKeyKernel,
	Samplers: []string{samplerInput, samplerBackground},
}

func passthroughKernel(*gpu.Uniforms) gpu.Fragment {
	return func(tc, _ [2]float32, units [2]gpu.Sampler) gpu.Vec4 {
		return units[0].Sample(tc[0], tc[1])
	}
}

func chromaKeyKernel(u *gpu.Uniforms) gpu.Fragment {
	threshold := u.Float(uniformThreshold)
	smoothing := u.Float(uniformSmoothing)
	key := u.Vec3(uniformColor)
	maskCr, maskCb := crcb(key[0], key[1], key[2])

	return func(tc, tc2 [2]float32, units [2]gpu.Sampler) gpu.Vec4 {
		fg := units[0].Sample(tc[0], tc[1])
		bg := units[1].Sample(tc2[0], tc2[1])

		cr, cb := crcb(fg[0], fg[1], fg[2])
		d := float32(math.Hypot(float64(cr-maskCr), float64(cb-maskCb)))
		blend := 1 - smoothstep(threshold, threshold+smoothing, d)
		return mix(fg, bg, blend)
	}
}

// BlendWeight returns how much of the background replaces color c when
// keying against key, using the same math as the shader.
func BlendWeight(c, key Color, threshold, smoothing float32) float32 {
	cr, cb := crcb(c[0], c[1], c[2])
	mr, mb := crcb(key[0], key[1], key[2])
	d := float32(math.Hypot(float64(cr-mr), float64(cb-mb)))
	return 1 - smoothstep(threshold, threshold+smoothing, d)
}

func crcb(r, g, b float32) (float32, float32) {
	y := 0.2989*r + 0.5866*g + 0.1145*b
	return 0.7132 * (r - y), 0.5647 * (b - y)
}

func smoothstep(e0, e1, x float32) float32 {
	if e1 <= e0 {
		if x < e0 {
			return 0
		}
		return 1
	}
	t := (x - e0) / (e1 - e0)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return t * t * (3 - 2*t)
}

func mix(a, b gpu.Vec4, t float32) gpu.Vec4 {
	return gpu.Vec4{
		a[0] + (b[0]-a[0])*t,
		a[1] + (b[1]-a[1])*t,
		a[2] + (b[2]-a[2])*t,
		a[3] + (b[3]-a[3])*t,
	}
}
